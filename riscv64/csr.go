package riscv64

// csrPriv returns the minimum privilege required to access csr, encoded
// in address bits [9:8] (spec §3 CSR file invariant).
func csrPriv(csr uint16) uint8 {
	return uint8((csr >> 8) & 3)
}

// csrReadOnly reports whether address bits [11:10] == 0b11, the read-only
// marker (spec §3).
func csrReadOnly(csr uint16) bool {
	return (csr>>10)&3 == 3
}

const sstatusMask = MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS | MstatusSUM | MstatusMXR | MstatusSD

// readSstatus projects the sstatus view out of the shared mstatus cell.
func (cpu *CPU) readSstatus() uint64 {
	return cpu.Mstatus & sstatusMask
}

// writeSstatus updates only the bits sstatus is allowed to write, then
// recomputes SD from FS (spec §4.1: "mstatus.SD is computed from FS/XS/VS
// before exposure").
func (cpu *CPU) writeSstatus(val uint64) {
	writable := uint64(MstatusSIE | MstatusSPIE | MstatusSPP | MstatusFS | MstatusSUM | MstatusMXR)
	cpu.Mstatus = (cpu.Mstatus &^ writable) | (val & writable)
	cpu.recomputeSD()
}

func (cpu *CPU) writeMstatus(val uint64) {
	writable := uint64(MstatusSIE | MstatusMIE | MstatusSPIE | MstatusMPIE | MstatusSPP |
		MstatusFS | MstatusSUM | MstatusMXR | MstatusTVM | MstatusTW | MstatusTSR | MstatusMPRV |
		(0b11 << MstatusMPPShift))
	cpu.Mstatus = (cpu.Mstatus &^ writable) | (val & writable)
	cpu.recomputeSD()
}

func (cpu *CPU) recomputeSD() {
	if cpu.Mstatus&MstatusFS == MstatusFS {
		cpu.Mstatus |= MstatusSD
	} else {
		cpu.Mstatus &^= MstatusSD
	}
}

func (cpu *CPU) mpp() uint8 {
	return uint8((cpu.Mstatus >> MstatusMPPShift) & 0b11)
}

func (cpu *CPU) setMPP(p uint8) {
	cpu.Mstatus = (cpu.Mstatus &^ (0b11 << MstatusMPPShift)) | (uint64(p&0b11) << MstatusMPPShift)
}

func (cpu *CPU) spp() uint8 {
	if cpu.Mstatus&MstatusSPP != 0 {
		return PrivSupervisor
	}
	return PrivUser
}

func (cpu *CPU) setSPP(p uint8) {
	if p == PrivUser {
		cpu.Mstatus &^= MstatusSPP
	} else {
		cpu.Mstatus |= MstatusSPP
	}
}

// csrRead implements the two-phase CSR access of spec §4.1: privilege
// check, then a masked read.
func (cpu *CPU) csrRead(csr uint16) (uint64, error) {
	if csrPriv(csr) > cpu.Priv {
		return 0, Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CsrSstatus:
		return cpu.readSstatus(), nil
	case CsrSie:
		return cpu.Mie & cpu.Mideleg, nil
	case CsrSip:
		return cpu.Mip & cpu.Mideleg, nil
	case CsrStvec:
		return cpu.Stvec, nil
	case CsrScounteren:
		return cpu.Scounteren, nil
	case CsrSscratch:
		return cpu.Sscratch, nil
	case CsrSepc:
		return cpu.Sepc, nil
	case CsrScause:
		return cpu.Scause, nil
	case CsrStval:
		return cpu.Stval, nil
	case CsrSatp:
		if cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusTVM != 0 {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Satp, nil
	case CsrMstatus:
		return cpu.Mstatus, nil
	case CsrMisa:
		return cpu.Misa, nil
	case CsrMedeleg:
		return cpu.Medeleg, nil
	case CsrMideleg:
		return cpu.Mideleg, nil
	case CsrMie:
		return cpu.Mie, nil
	case CsrMtvec:
		return cpu.Mtvec, nil
	case CsrMcounteren:
		return cpu.Mcounteren, nil
	case CsrMscratch:
		return cpu.Mscratch, nil
	case CsrMepc:
		return cpu.Mepc, nil
	case CsrMcause:
		return cpu.Mcause, nil
	case CsrMtval:
		return cpu.Mtval, nil
	case CsrMip:
		return cpu.Mip, nil
	case CsrMhartid:
		return cpu.Mhartid, nil
	case CsrMvendorid, CsrMarchid, CsrMimpid:
		return 0, nil
	case CsrTselect:
		// No trigger module is implemented; hardwired to all-ones
		// signals "no trigger available" per spec §6.
		return ^uint64(0), nil
	case CsrMcycle:
		return cpu.Cycle, nil
	case CsrMinstret:
		return cpu.Instret, nil
	case CsrCycle:
		if err := cpu.counterAccessible(0); err != nil {
			return 0, err
		}
		return cpu.Cycle, nil
	case CsrTime:
		if err := cpu.counterAccessible(1); err != nil {
			return 0, err
		}
		return cpu.readTime(), nil
	case CsrInstret:
		if err := cpu.counterAccessible(2); err != nil {
			return 0, err
		}
		return cpu.Instret, nil
	case CsrDcsr:
		if !cpu.halted {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Dcsr, nil
	case CsrDpc:
		if !cpu.halted {
			return 0, Exception(CauseIllegalInsn, 0)
		}
		return cpu.Dpc, nil
	default:
		// Addresses outside the implemented set fail the map lookup and
		// trap (spec §4.1 two-phase access).
		return 0, Exception(CauseIllegalInsn, 0)
	}
}

// csrWrite implements the masked, permission-checked CSR write of spec §4.1.
func (cpu *CPU) csrWrite(csr uint16, val uint64) error {
	if csrReadOnly(csr) {
		return Exception(CauseIllegalInsn, 0)
	}
	if csrPriv(csr) > cpu.Priv {
		return Exception(CauseIllegalInsn, 0)
	}

	switch csr {
	case CsrSstatus:
		cpu.writeSstatus(val)
	case CsrSie:
		mask := cpu.Mideleg
		cpu.Mie = (cpu.Mie &^ mask) | (val & mask)
	case CsrSip:
		mask := cpu.Mideleg & (MipSSIP)
		cpu.Mip = (cpu.Mip &^ mask) | (val & mask)
	case CsrStvec:
		cpu.Stvec = val &^ 0b10
	case CsrScounteren:
		cpu.Scounteren = val
	case CsrSscratch:
		cpu.Sscratch = val
	case CsrSepc:
		cpu.Sepc = val &^ 1
	case CsrScause:
		cpu.Scause = val
	case CsrStval:
		cpu.Stval = val
	case CsrSatp:
		if cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusTVM != 0 {
			return Exception(CauseIllegalInsn, 0)
		}
		cpu.writeSatp(val)
	case CsrMstatus:
		cpu.writeMstatus(val)
	case CsrMisa:
		// Extensions are fixed at construction; writes are accepted and
		// discarded (legal per the privileged spec).
	case CsrMedeleg:
		cpu.Medeleg = val & 0xb3ff
	case CsrMideleg:
		cpu.Mideleg = val & (MipSSIP | MipSTIP | MipSEIP)
	case CsrMie:
		cpu.Mie = val & (MipSSIP | MipMSIP | MipSTIP | MipMTIP | MipSEIP | MipMEIP)
	case CsrMtvec:
		cpu.Mtvec = val &^ 0b10
	case CsrMcounteren:
		cpu.Mcounteren = val
	case CsrMscratch:
		cpu.Mscratch = val
	case CsrMepc:
		cpu.Mepc = val &^ 1
	case CsrMcause:
		cpu.Mcause = val
	case CsrMtval:
		cpu.Mtval = val
	case CsrMip:
		mask := uint64(MipSSIP | MipSTIP | MipSEIP)
		cpu.Mip = (cpu.Mip &^ mask) | (val & mask)
	case CsrMcycle:
		cpu.Cycle = val
	case CsrMinstret:
		cpu.Instret = val
	case CsrTselect:
		// No-op: no trigger module.
	case CsrDcsr:
		if !cpu.halted {
			return Exception(CauseIllegalInsn, 0)
		}
		mask := uint64(dcsrStep | dcsrEbreakM | dcsrEbreakS | dcsrEbreakU | 0b11)
		cpu.Dcsr = (cpu.Dcsr &^ mask) | (val & mask)
	case CsrDpc:
		if !cpu.halted {
			return Exception(CauseIllegalInsn, 0)
		}
		cpu.Dpc = val &^ 1
	default:
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

func (cpu *CPU) writeSatp(val uint64) {
	mode := uint8((val >> 60) & 0xf)
	if mode != SatpModeBare && (mode > cpu.satpMaxMode || !satpModeSupported(mode)) {
		// Spec §4.1: "satp writes silently ignore unsupported modes; the
		// legal mode is bounded by configuration" — ppn/asid still update.
		mode = uint8((cpu.Satp >> 60) & 0xf)
	}
	newSatp := (val &^ (uint64(0xf) << 60)) | (uint64(mode) << 60)
	cpu.Satp = newSatp
	if cpu.MMU != nil {
		cpu.MMU.FlushTLB()
	}
}

func satpModeSupported(mode uint8) bool {
	switch mode {
	case SatpModeBare, SatpModeSv39, SatpModeSv48, SatpModeSv57:
		return true
	default:
		return false
	}
}

// counterAccessible gates the user-level counter aliases (cycle, time,
// instret) behind mcounteren/scounteren: each lower privilege level
// needs the corresponding enable bit at every level above it.
func (cpu *CPU) counterAccessible(bit uint) error {
	if cpu.Priv < PrivMachine && cpu.Mcounteren&(1<<bit) == 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	if cpu.Priv == PrivUser && cpu.Scounteren&(1<<bit) == 0 {
		return Exception(CauseIllegalInsn, 0)
	}
	return nil
}

// readTime exposes the platform timer: the CLINT's mtime when a
// machine wired one in, else a monotonic tick count mirroring cycle.
func (cpu *CPU) readTime() uint64 {
	if cpu.TimeFn != nil {
		return cpu.TimeFn()
	}
	return cpu.Cycle
}
