package riscv64

// dcsr.cause values (external debug spec).
const (
	DcsrCauseEbreak       = 1
	DcsrCauseTrigger      = 2
	DcsrCauseHaltreq      = 3
	DcsrCauseStep         = 4
	DcsrCauseResethaltreq = 5
)

const (
	dcsrPrvShift   = 0
	dcsrStepShift  = 2
	dcsrCauseShift = 6

	dcsrStep    = 1 << dcsrStepShift
	dcsrEbreakU = 1 << 12
	dcsrEbreakS = 1 << 13
	dcsrEbreakM = 1 << 15
)

// The methods below are the contract riscv64/debug.Hart expects from a
// CPU: halt/resume, single-step, and register/memory access performed
// while halted. Apart from Halted and SingleStepPending, which
// Machine.Step checks every step, none of this runs on the hot
// execution path.

// HaltRequest parks the hart: the next Step call becomes a no-op until
// Resume is called. The interrupted privilege is saved into dcsr.prv,
// dcsr.cause records why, dpc records where execution will resume, and
// the hart operates with machine authority while halted.
func (cpu *CPU) HaltRequest(cause uint8) {
	if cpu.halted {
		return
	}
	cpu.halted = true
	cpu.Dpc = cpu.PC
	cpu.Dcsr = (cpu.Dcsr &^ (0x7 << dcsrCauseShift)) | (uint64(cause) << dcsrCauseShift)
	cpu.Dcsr = (cpu.Dcsr &^ 0x3) | uint64(cpu.Priv)
	cpu.Priv = PrivMachine
}

// Resume leaves halted state: PC comes from dpc and the privilege
// level saved in dcsr.prv is restored (clearing mstatus.MPRV when that
// level is below machine). If dcsr.step is set the hart runs exactly
// one instruction and halts again with cause=step; Machine.Step
// enforces that by checking SingleStepPending.
func (cpu *CPU) Resume() {
	cpu.PC = cpu.Dpc
	cpu.Priv = uint8(cpu.Dcsr & 0x3)
	if cpu.Priv != PrivMachine {
		cpu.Mstatus &^= MstatusMPRV
	}
	cpu.halted = false
	cpu.singleStep = cpu.Dcsr&dcsrStep != 0
}

func (cpu *CPU) Halted() bool  { return cpu.halted }
func (cpu *CPU) Running() bool { return !cpu.halted }

// SingleStepPending reports whether the hart should re-halt after the
// instruction about to execute.
func (cpu *CPU) SingleStepPending() bool { return !cpu.halted && cpu.singleStep }

// HaltAfterStep is called by Machine.Step once a single-stepped
// instruction has retired.
func (cpu *CPU) HaltAfterStep() {
	cpu.singleStep = false
	cpu.HaltRequest(DcsrCauseStep)
}

func (cpu *CPU) HaveReset() bool  { return cpu.haveReset }
func (cpu *CPU) ClearHaveReset()  { cpu.haveReset = false }
func (cpu *CPU) SetResetRequest() { cpu.Reset(cpu.bootPC) }

// ReadGPR/WriteGPR expose x0-x31 for abstract register-access commands.
func (cpu *CPU) ReadGPR(n uint32) uint64     { return cpu.ReadReg(n) }
func (cpu *CPU) WriteGPR(n uint32, v uint64) { cpu.WriteReg(n, v) }

// ReadCSR/WriteCSR expose the CSR file for abstract register-access
// commands, bypassing the privilege check a running program would be
// subject to: the debugger acts with implicit machine-mode authority.
func (cpu *CPU) ReadCSR(addr uint16) (uint64, error) {
	saved := cpu.Priv
	cpu.Priv = PrivMachine
	defer func() { cpu.Priv = saved }()
	return cpu.csrRead(addr)
}

func (cpu *CPU) WriteCSR(addr uint16, v uint64) error {
	saved := cpu.Priv
	cpu.Priv = PrivMachine
	defer func() { cpu.Priv = saved }()
	return cpu.csrWrite(addr, v)
}

// ReadMemory/WriteMemory service Access Memory abstract commands,
// physical addresses only (aamvirtual is rejected by the caller before
// reaching here, matching the original debug module's scope).
func (cpu *CPU) ReadMemory(addr uint64, size int) (uint64, error) {
	return cpu.Bus.Read(addr, size)
}

func (cpu *CPU) WriteMemory(addr uint64, size int, v uint64) error {
	return cpu.Bus.Write(addr, size, v)
}
