package riscv64

import "testing"

func ppnFor(pa uint64) uint64 { return pa / PageSize }

// mapSv39Leaf builds a full three-level Sv39 walk for va 0: a
// non-leaf PTE at rootPT pointing to l1PT, a non-leaf PTE at l1PT
// pointing to l0PT, and a level-0 leaf PTE at l0PT mapping to pa.
// All three tables are indexed by VPN 0, matching va 0.
func mapSv39Leaf(t *testing.T, cpu *CPU, rootPT, l1PT, l0PT, pa uint64, leafFlags uint64) {
	t.Helper()
	if err := cpu.Bus.Write64(rootPT, (ppnFor(l1PT)<<10)|PteV); err != nil {
		t.Fatalf("writing level-2 PTE: %v", err)
	}
	if err := cpu.Bus.Write64(l1PT, (ppnFor(l0PT)<<10)|PteV); err != nil {
		t.Fatalf("writing level-1 PTE: %v", err)
	}
	if err := cpu.Bus.Write64(l0PT, (ppnFor(pa)<<10)|leafFlags); err != nil {
		t.Fatalf("writing level-0 leaf PTE: %v", err)
	}
}

// TestSv39LeafTranslation reproduces scenario 5 from spec.md §8: a
// single Sv39 leaf PTE at level 0 mapping va 0 to a physical page.
func TestSv39LeafTranslation(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor

	const rootPT = DefaultRAMBase + 0x1000
	const l1PT = DefaultRAMBase + 0x2000
	const l0PT = DefaultRAMBase + 0x3000
	const mappedPA = DefaultRAMBase + 0x4000

	mapSv39Leaf(t, cpu, rootPT, l1PT, l0PT, mappedPA, PteV|PteR|PteW|PteX|PteA|PteD)
	if err := cpu.Bus.Write32(mappedPA, 0xDEAD_BEEF); err != nil {
		t.Fatalf("seeding target memory: %v", err)
	}

	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	paddr, err := cpu.MMU.Translate(0, AccessRead)
	if err != nil {
		t.Fatalf("translating va 0: %v", err)
	}
	if paddr != mappedPA {
		t.Fatalf("paddr = %#x, want %#x", paddr, mappedPA)
	}

	v, err := cpu.Bus.Read32(paddr)
	if err != nil {
		t.Fatalf("reading translated address: %v", err)
	}
	if v != 0xDEAD_BEEF {
		t.Fatalf("value = %#x, want 0xDEADBEEF", v)
	}
}

func TestMachineModeBypassesTranslation(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivMachine
	cpu.Satp = uint64(SatpModeSv39) << 60

	paddr, err := cpu.MMU.Translate(0x1234, AccessRead)
	if err != nil {
		t.Fatalf("machine-mode translate: %v", err)
	}
	if paddr != 0x1234 {
		t.Fatalf("paddr = %#x, want identity 0x1234", paddr)
	}
}

func TestBareSatpBypassesTranslation(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	cpu.Satp = uint64(SatpModeBare) << 60

	paddr, err := cpu.MMU.Translate(0x4321, AccessRead)
	if err != nil {
		t.Fatalf("bare-mode translate: %v", err)
	}
	if paddr != 0x4321 {
		t.Fatalf("paddr = %#x, want identity 0x4321", paddr)
	}
}

func TestInvalidPTERaisesPageFault(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	const rootPT = DefaultRAMBase + 0x1000
	// PTE with V=0: invalid.
	if err := cpu.Bus.Write64(rootPT, 0); err != nil {
		t.Fatalf("writing root PTE: %v", err)
	}
	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	_, err := cpu.MMU.Translate(0, AccessRead)
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseLoadPageFault {
		t.Fatalf("translate through invalid PTE = %v, want load-page-fault", err)
	}
}

func TestSuperpageMisalignmentFaults(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	const rootPT = DefaultRAMBase + 0x1000

	// A leaf PTE in the root table (Sv39 level 2, a 1 GiB gigapage)
	// whose PPN has a nonzero low field is misaligned (spec §4.6 step 6).
	misalignedPPN := uint64(1) // low VPN field set: violates alignment
	leaf := (misalignedPPN << 10) | PteV | PteR | PteW | PteA | PteD
	if err := cpu.Bus.Write64(rootPT, leaf); err != nil {
		t.Fatalf("writing root PTE: %v", err)
	}
	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	_, err := cpu.MMU.Translate(0, AccessRead)
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseLoadPageFault {
		t.Fatalf("misaligned superpage translate = %v, want load-page-fault", err)
	}
}

func TestAccessedBitRequiredPolicy(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	const rootPT = DefaultRAMBase + 0x1000
	const l1PT = DefaultRAMBase + 0x2000
	const l0PT = DefaultRAMBase + 0x3000
	const mappedPA = DefaultRAMBase + 0x4000

	// Leaf PTE with A=0: spec §4.6 step 7 requires a page fault rather
	// than a silently set A bit (software-managed policy).
	mapSv39Leaf(t, cpu, rootPT, l1PT, l0PT, mappedPA, PteV|PteR|PteW|PteX)
	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	_, err := cpu.MMU.Translate(0, AccessRead)
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseLoadPageFault {
		t.Fatalf("translate with A=0 = %v, want load-page-fault", err)
	}
}

func TestUModePageRequiresUBit(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivUser
	const rootPT = DefaultRAMBase + 0x1000
	const l1PT = DefaultRAMBase + 0x2000
	const l0PT = DefaultRAMBase + 0x3000
	const mappedPA = DefaultRAMBase + 0x4000

	// U=0: user mode may not access a supervisor-only page.
	mapSv39Leaf(t, cpu, rootPT, l1PT, l0PT, mappedPA, PteV|PteR|PteW|PteA|PteD)
	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	_, err := cpu.MMU.Translate(0, AccessRead)
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseLoadPageFault {
		t.Fatalf("user access to U=0 page = %v, want load-page-fault", err)
	}
}

func TestSupervisorAccessToUPageRequiresSUM(t *testing.T) {
	cpu := newTestCPU(t)
	cpu.Priv = PrivSupervisor
	const rootPT = DefaultRAMBase + 0x1000
	const l1PT = DefaultRAMBase + 0x2000
	const l0PT = DefaultRAMBase + 0x3000
	const mappedPA = DefaultRAMBase + 0x4000

	mapSv39Leaf(t, cpu, rootPT, l1PT, l0PT, mappedPA, PteV|PteR|PteW|PteU|PteA|PteD)
	cpu.Satp = (uint64(SatpModeSv39) << 60) | (rootPT / PageSize)

	if _, err := cpu.MMU.Translate(0, AccessRead); err == nil {
		t.Fatal("supervisor access to U=1 page without SUM should page-fault")
	}

	cpu.Mstatus |= MstatusSUM
	cpu.MMU.FlushTLB()
	if _, err := cpu.MMU.Translate(0, AccessRead); err != nil {
		t.Fatalf("supervisor access to U=1 page with SUM set: %v", err)
	}
}
