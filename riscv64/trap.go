package riscv64

// CheckInterrupt evaluates pending interrupts and returns the highest
// priority one that is currently enabled to fire, per spec §4.7's
// "Interrupt selection": pending = xip & xie, partitioned by mideleg,
// gated by the target's global enable, priority MEI>MSI>MTI>SEI>SSI>STI.
func (cpu *CPU) CheckInterrupt() (bool, uint64) {
	pending := cpu.Mip & cpu.Mie

	mEnabled := cpu.Priv < PrivMachine || (cpu.Priv == PrivMachine && cpu.Mstatus&MstatusMIE != 0)
	sEnabled := cpu.Priv < PrivSupervisor || (cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusSIE != 0)

	check := func(bit uint64, cause uint64) (bool, uint64) {
		if pending&bit == 0 {
			return false, 0
		}
		delegated := cpu.Mideleg&bit != 0
		if delegated {
			if sEnabled {
				return true, cause
			}
			return false, 0
		}
		if mEnabled {
			return true, cause
		}
		return false, 0
	}

	if ok, c := check(MipMEIP, CauseMEI); ok {
		return true, c
	}
	if ok, c := check(MipMSIP, CauseMSI); ok {
		return true, c
	}
	if ok, c := check(MipMTIP, CauseMTI); ok {
		return true, c
	}
	if ok, c := check(MipSEIP, CauseSEI); ok {
		return true, c
	}
	if ok, c := check(MipSSIP, CauseSSI); ok {
		return true, c
	}
	if ok, c := check(MipSTIP, CauseSTI); ok {
		return true, c
	}
	return false, 0
}

// HandleTrap delivers a trap (exception or interrupt) to M or S mode per
// spec §4.7, including medeleg/mideleg-based delegation and mstatus
// stacking.
func (cpu *CPU) HandleTrap(cause, tval uint64) {
	isInterrupt := cause&interruptBit != 0
	code := cause &^ interruptBit

	delegate := false
	if cpu.Priv <= PrivSupervisor {
		if isInterrupt {
			delegate = cpu.Mideleg&(1<<code) != 0
		} else {
			delegate = cpu.Medeleg&(1<<code) != 0
		}
	}

	prevPriv := cpu.Priv

	if delegate {
		cpu.setSPP(prevPriv)
		if cpu.Mstatus&MstatusSIE != 0 {
			cpu.Mstatus |= MstatusSPIE
		} else {
			cpu.Mstatus &^= MstatusSPIE
		}
		cpu.Mstatus &^= MstatusSIE
		cpu.Sepc = cpu.PC
		cpu.Scause = cause
		cpu.Stval = tval
		cpu.Priv = PrivSupervisor

		base := cpu.Stvec &^ 0b11
		if isInterrupt && cpu.Stvec&1 != 0 {
			cpu.PC = base + 4*code
		} else {
			cpu.PC = base
		}
	} else {
		cpu.setMPP(prevPriv)
		if cpu.Mstatus&MstatusMIE != 0 {
			cpu.Mstatus |= MstatusMPIE
		} else {
			cpu.Mstatus &^= MstatusMPIE
		}
		cpu.Mstatus &^= MstatusMIE
		cpu.Mepc = cpu.PC
		cpu.Mcause = cause
		cpu.Mtval = tval
		cpu.Priv = PrivMachine

		base := cpu.Mtvec &^ 0b11
		if isInterrupt && cpu.Mtvec&1 != 0 {
			cpu.PC = base + 4*code
		} else {
			cpu.PC = base
		}
	}
}

// handleMret implements MRET (spec §4.7 xRET).
func (cpu *CPU) handleMret() error {
	y := cpu.mpp()
	if cpu.Mstatus&MstatusMPIE != 0 {
		cpu.Mstatus |= MstatusMIE
	} else {
		cpu.Mstatus &^= MstatusMIE
	}
	cpu.Priv = y
	cpu.Mstatus |= MstatusMPIE
	cpu.setMPP(PrivUser)
	if y != PrivMachine {
		cpu.Mstatus &^= MstatusMPRV
	}
	cpu.NPC = cpu.Mepc
	return nil
}

// handleSret implements SRET, raising illegal-instruction under TSR.
func (cpu *CPU) handleSret() error {
	if cpu.Mstatus&MstatusTSR != 0 && cpu.Priv == PrivSupervisor {
		return Exception(CauseIllegalInsn, 0)
	}
	y := cpu.spp()
	if cpu.Mstatus&MstatusSPIE != 0 {
		cpu.Mstatus |= MstatusSIE
	} else {
		cpu.Mstatus &^= MstatusSIE
	}
	cpu.Priv = y
	cpu.Mstatus |= MstatusSPIE
	cpu.setSPP(PrivUser)
	if y != PrivMachine {
		cpu.Mstatus &^= MstatusMPRV
	}
	cpu.NPC = cpu.Sepc
	return nil
}
