package riscv64

// Access kinds for translation.
const (
	AccessRead = iota
	AccessWrite
	AccessExecute
)

// PTE flag bits.
const (
	PteV = 1 << 0
	PteR = 1 << 1
	PteW = 1 << 2
	PteX = 1 << 3
	PteU = 1 << 4
	PteG = 1 << 5
	PteA = 1 << 6
	PteD = 1 << 7
)

const (
	PageSize  = 4096
	PageShift = 12
	PTESize   = 8
	VpnBits   = 9
)

// TLBEntry caches a successful translation at 4 KiB granularity;
// superpage walks populate one entry per referenced page.
type TLBEntry struct {
	Valid bool
	VPN   uint64
	PPN   uint64
	Flags uint64
}

// MMU implements the Sv39/Sv48/Sv57 page-table walker (spec §4.6),
// generalized from the donor's Sv39/Sv48-only walk with an extra level
// for Sv57 (LEVELS ∈ {3,4,5} per spec §3/§6, confirmed as a distinct mode
// by the original source's dedicated sv57 module).
type MMU struct {
	cpu *CPU
	tlb [256]TLBEntry
}

func NewMMU(cpu *CPU) *MMU {
	return &MMU{cpu: cpu}
}

func (m *MMU) FlushTLB() {
	for i := range m.tlb {
		m.tlb[i] = TLBEntry{}
	}
}

func (m *MMU) FlushTLBEntry(vaddr uint64) {
	idx := (vaddr >> PageShift) % uint64(len(m.tlb))
	if m.tlb[idx].Valid && m.tlb[idx].VPN == vaddr>>PageShift {
		m.tlb[idx] = TLBEntry{}
	}
}

func satpMode(satp uint64) uint8 { return uint8((satp >> 60) & 0xf) }
func satpPPN(satp uint64) uint64 { return satp & ((1 << 44) - 1) }

func levelsFor(mode uint8) int {
	switch mode {
	case SatpModeSv39:
		return 3
	case SatpModeSv48:
		return 4
	case SatpModeSv57:
		return 5
	default:
		return 0
	}
}

// effectivePriv returns the privilege translation should be performed
// under: MPP when mstatus.MPRV is set and the access is a load/store
// (spec §4.6 step 1).
func (m *MMU) effectivePriv(access int) uint8 {
	cpu := m.cpu
	if cpu.Mstatus&MstatusMPRV != 0 && access != AccessExecute {
		return cpu.mpp()
	}
	return cpu.Priv
}

// Translate performs the eight-step walk and returns a physical address.
func (m *MMU) Translate(vaddr uint64, access int) (uint64, error) {
	cpu := m.cpu
	priv := m.effectivePriv(access)
	mode := satpMode(cpu.Satp)

	if priv == PrivMachine || mode == SatpModeBare {
		return vaddr, nil
	}

	levels := levelsFor(mode)
	if levels == 0 {
		return vaddr, nil
	}

	if idx := (vaddr >> PageShift) % uint64(len(m.tlb)); m.tlb[idx].Valid && m.tlb[idx].VPN == vaddr>>PageShift {
		e := m.tlb[idx]
		if err := m.checkPermissions(e.Flags, access, priv, vaddr); err != nil {
			return 0, err
		}
		// A cached entry may have been filled by a load; a store still
		// needs the dirty bit under the software-managed A/D policy.
		if e.Flags&PteA == 0 || (access == AccessWrite && e.Flags&PteD == 0) {
			return 0, pageFault(access, vaddr)
		}
		return (e.PPN << PageShift) | (vaddr & (PageSize - 1)), nil
	}

	paddr, leafPTE, err := m.walkPageTable(vaddr, access, priv, levels)
	if err != nil {
		return 0, err
	}

	idx := (vaddr >> PageShift) % uint64(len(m.tlb))
	m.tlb[idx] = TLBEntry{
		Valid: true,
		VPN:   vaddr >> PageShift,
		PPN:   paddr >> PageShift,
		Flags: leafPTE,
	}

	return paddr, nil
}

// walkPageTable implements spec §4.6 steps 2-8.
func (m *MMU) walkPageTable(vaddr uint64, access int, priv uint8, levels int) (paddr uint64, leafPTE uint64, err error) {
	cpu := m.cpu

	// Canonical-address check (sign-extended from the top VPN bit).
	topBit := uint(PageShift + levels*VpnBits - 1)
	if !isCanonical(vaddr, topBit) {
		return 0, 0, pageFault(access, vaddr)
	}

	a := satpPPN(cpu.Satp) * PageSize
	i := levels - 1

	var pte uint64
	for {
		vpn := (vaddr >> (PageShift + uint(i)*VpnBits)) & ((1 << VpnBits) - 1)
		pteAddr := a + vpn*PTESize

		pte, err = cpu.Bus.Read64(pteAddr)
		if err != nil {
			return 0, 0, Exception(accessFaultCause(access), vaddr)
		}

		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, 0, pageFault(access, vaddr)
		}

		if pte&(PteR|PteX) != 0 {
			break // leaf
		}

		i--
		if i < 0 {
			return 0, 0, pageFault(access, vaddr)
		}
		a = ppnOf(pte) * PageSize
	}

	if err := m.checkPermissions(pte, access, priv, vaddr); err != nil {
		return 0, 0, err
	}

	// Superpage misalignment (step 6): any PPN field below level i must
	// be zero.
	if i > 0 {
		ppn := ppnOf(pte)
		mask := (uint64(1) << (uint(i) * VpnBits)) - 1
		if ppn&mask != 0 {
			return 0, 0, pageFault(access, vaddr)
		}
	}

	// Accessed/Dirty policy (step 7): software-managed, raise page fault
	// rather than silently set the bits.
	if pte&PteA == 0 || ((access == AccessWrite) && pte&PteD == 0) {
		return 0, 0, pageFault(access, vaddr)
	}

	// Compose the physical address (step 8): offset from va, low PPN
	// fields from va (superpage), high fields from pte.
	offset := vaddr & (PageSize - 1)
	ppn := ppnOf(pte)
	if i > 0 {
		vpnMask := (uint64(1) << (uint(i) * VpnBits)) - 1
		vpnLow := (vaddr >> PageShift) & vpnMask
		ppn = (ppn &^ vpnMask) | vpnLow
	}
	paddr = (ppn << PageShift) | offset
	return paddr, pte, nil
}

func ppnOf(pte uint64) uint64 {
	return (pte >> 10) & ((1 << 44) - 1)
}

func isCanonical(vaddr uint64, topBit uint) bool {
	sext := uint64(int64(vaddr<<(63-topBit)) >> (63 - topBit))
	return sext == vaddr
}

// checkPermissions implements spec §4.6 step 5.
func (m *MMU) checkPermissions(pte uint64, access int, priv uint8, vaddr uint64) error {
	cpu := m.cpu

	if pte&PteU != 0 {
		if priv == PrivSupervisor && cpu.Mstatus&MstatusSUM == 0 {
			return pageFault(access, vaddr)
		}
	} else {
		if priv == PrivUser {
			return pageFault(access, vaddr)
		}
	}

	switch access {
	case AccessExecute:
		if pte&PteX == 0 {
			return pageFault(access, vaddr)
		}
	case AccessRead:
		readable := pte&PteR != 0 || (pte&PteX != 0 && cpu.Mstatus&MstatusMXR != 0)
		if !readable {
			return pageFault(access, vaddr)
		}
	case AccessWrite:
		if pte&PteW == 0 {
			return pageFault(access, vaddr)
		}
	}
	return nil
}

func accessFaultCause(access int) uint64 {
	switch access {
	case AccessExecute:
		return CauseInsnAccessFault
	case AccessWrite:
		return CauseStoreAccessFault
	default:
		return CauseLoadAccessFault
	}
}

func pageFault(access int, vaddr uint64) error {
	switch access {
	case AccessExecute:
		return Exception(CauseInsnPageFault, vaddr)
	case AccessWrite:
		return Exception(CauseStorePageFault, vaddr)
	default:
		return Exception(CauseLoadPageFault, vaddr)
	}
}

func (m *MMU) TranslateRead(vaddr uint64) (uint64, error)  { return m.Translate(vaddr, AccessRead) }
func (m *MMU) TranslateWrite(vaddr uint64) (uint64, error) { return m.Translate(vaddr, AccessWrite) }
func (m *MMU) TranslateFetch(vaddr uint64) (uint64, error) { return m.Translate(vaddr, AccessExecute) }
