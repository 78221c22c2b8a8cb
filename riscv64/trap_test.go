package riscv64

import "testing"

// TestEcallFromUNotDelegatedTrapsToM reproduces scenario 2 from
// spec.md §8: an ECALL from user mode with no delegation traps to
// machine mode with mcause=8, mepc=the ecall pc, and the next pc is
// mtvec.base.
func TestEcallFromUNotDelegatedTrapsToM(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivUser
	cpu.PC = DefaultRAMBase + 0x40
	cpu.Mtvec = DefaultRAMBase + 0x1000

	cpu.HandleTrap(CauseEcallFromU, 0)

	if cpu.Mcause != CauseEcallFromU {
		t.Fatalf("mcause = %d, want %d", cpu.Mcause, CauseEcallFromU)
	}
	if cpu.Mepc != DefaultRAMBase+0x40 {
		t.Fatalf("mepc = %#x, want %#x", cpu.Mepc, DefaultRAMBase+0x40)
	}
	if cpu.PC != cpu.Mtvec {
		t.Fatalf("pc = %#x, want mtvec base %#x", cpu.PC, cpu.Mtvec)
	}
	if cpu.Priv != PrivMachine {
		t.Fatalf("priv = %d, want machine", cpu.Priv)
	}
	if cpu.mpp() != PrivUser {
		t.Fatalf("mpp = %d, want user (prior privilege)", cpu.mpp())
	}
}

// TestDelegatedPageFaultTrapsToS reproduces scenario 3 from spec.md
// §8: medeleg bit 13 set, a load page fault from user mode traps to
// supervisor mode with scause=13, stval=the faulting vaddr, and
// priv=S.
func TestDelegatedPageFaultTrapsToS(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivUser
	cpu.PC = DefaultRAMBase + 0x40
	cpu.Medeleg |= 1 << CauseLoadPageFault
	cpu.Stvec = DefaultRAMBase + 0x2000

	const faultVA = 0x1000
	cpu.HandleTrap(CauseLoadPageFault, faultVA)

	if cpu.Scause != CauseLoadPageFault {
		t.Fatalf("scause = %d, want %d", cpu.Scause, CauseLoadPageFault)
	}
	if cpu.Stval != faultVA {
		t.Fatalf("stval = %#x, want %#x", cpu.Stval, faultVA)
	}
	if cpu.Priv != PrivSupervisor {
		t.Fatalf("priv = %d, want supervisor", cpu.Priv)
	}
	if cpu.PC != cpu.Stvec {
		t.Fatalf("pc = %#x, want stvec base %#x", cpu.PC, cpu.Stvec)
	}
	if cpu.spp() != PrivUser {
		t.Fatalf("spp = %d, want user (prior privilege)", cpu.spp())
	}
}

func TestVectoredInterruptOffsetsByCause(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivMachine
	cpu.Mtvec = (DefaultRAMBase + 0x3000) | 1 // vectored mode

	cpu.HandleTrap(CauseMTI, 0)

	want := uint64(DefaultRAMBase+0x3000) + 4*7 // code 7 = machine timer interrupt
	if cpu.PC != want {
		t.Fatalf("pc = %#x, want %#x (vectored)", cpu.PC, want)
	}
}

func TestMretRestoresPriorPrivilegeAndClearsMPRV(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivMachine
	cpu.setMPP(PrivSupervisor)
	cpu.Mstatus |= MstatusMPIE | MstatusMPRV
	cpu.Mepc = DefaultRAMBase + 0x80

	if err := cpu.Execute(0x30200073); err != nil { // MRET
		t.Fatalf("mret: %v", err)
	}
	if cpu.Priv != PrivSupervisor {
		t.Fatalf("priv after mret = %d, want supervisor", cpu.Priv)
	}
	if cpu.Mstatus&MstatusMIE == 0 {
		t.Fatal("mstatus.MIE should be set from MPIE")
	}
	if cpu.mpp() != PrivUser {
		t.Fatalf("mpp after mret = %d, want user", cpu.mpp())
	}
	if cpu.Mstatus&MstatusMPRV != 0 {
		t.Fatal("MPRV should clear when y != M")
	}
	if cpu.PC != cpu.Mepc {
		t.Fatalf("pc = %#x, want mepc %#x", cpu.PC, cpu.Mepc)
	}
}

func TestSretUnderTSRFromSTraps(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	cpu.Mstatus |= MstatusTSR

	err := cpu.handleSret()
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseIllegalInsn {
		t.Fatalf("sret under tsr = %v, want illegal-instruction", err)
	}
}

func TestInterruptPriorityOrdering(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivMachine
	cpu.Mstatus |= MstatusMIE
	cpu.Mie = MipMEIP | MipMSIP | MipMTIP
	cpu.Mip = MipMSIP | MipMTIP

	// MEI is enabled but not pending; MSI and MTI are both pending, so
	// MSI (higher priority) must win.
	ok, cause := cpu.CheckInterrupt()
	if !ok || cause != CauseMSI {
		t.Fatalf("CheckInterrupt() = (%v, %d), want (true, %d)", ok, cause, CauseMSI)
	}
}

func TestInterruptsMaskedWhenGlobalDisableClear(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivMachine
	cpu.Mie = MipMTIP
	cpu.Mip = MipMTIP
	// mstatus.MIE left clear.

	if ok, _ := cpu.CheckInterrupt(); ok {
		t.Fatal("interrupt should be masked when mstatus.MIE is clear at M")
	}
}

func TestDelegatedInterruptGatedBySIE(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	cpu.Mideleg |= MipSTIP
	cpu.Mie = MipSTIP
	cpu.Mip = MipSTIP
	cpu.Mstatus &^= MstatusSIE

	if ok, _ := cpu.CheckInterrupt(); ok {
		t.Fatal("delegated interrupt should be masked when mstatus.SIE is clear at S")
	}

	cpu.Mstatus |= MstatusSIE
	ok, cause := cpu.CheckInterrupt()
	if !ok || cause != CauseSTI {
		t.Fatalf("CheckInterrupt() = (%v, %d), want (true, %d)", ok, cause, CauseSTI)
	}
}
