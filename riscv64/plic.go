package riscv64

// PLIC implements a minimal platform-level interrupt controller: 64
// interrupt sources and two contexts (hart 0 machine mode, hart 0
// supervisor mode), enough to exercise the claim/complete protocol and
// priority threshold without modeling the full Sifive 1024-source part.
type PLIC struct {
	harts []*CPU

	numSources int
	priority   [64]uint32
	pending    [64]bool
	claimed    [64]bool
	enable     [2][64]bool
	threshold  [2]uint32
}

const (
	plicPriorityBase  = 0x0000
	plicPendingBase   = 0x1000
	plicEnableBase    = 0x2000
	plicEnableStride  = 0x80
	plicContextBase   = 0x200000
	plicContextStride = 0x1000
)

// NewPLIC creates a PLIC with 64 sources serving the machine/supervisor
// contexts of hart 0.
func NewPLIC(hart *CPU) *PLIC {
	return &PLIC{harts: []*CPU{hart}, numSources: 64}
}

func (p *PLIC) Name() string { return "plic" }

// SetPending raises or clears a source's pending bit, called by a
// device collaborator (interrupt-generating peripherals are out of
// scope for this core, but the wiring point is here for them).
func (p *PLIC) SetPending(source int, level bool) {
	if source <= 0 || source >= p.numSources {
		return
	}
	p.pending[source] = level
	p.recompute()
}

func (p *PLIC) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset >= plicPriorityBase && offset < plicPriorityBase+uint64(p.numSources)*4:
		idx := (offset - plicPriorityBase) / 4
		return uint64(p.priority[idx]), nil
	case offset >= plicPendingBase && offset < plicPendingBase+8:
		lo := int((offset - plicPendingBase) / 4 * 32)
		var bits uint64
		for i := lo; i < p.numSources && i < lo+size*8; i++ {
			if p.pending[i] {
				bits |= 1 << uint(i-lo)
			}
		}
		return bits, nil
	case offset >= plicEnableBase && offset < plicEnableBase+2*plicEnableStride:
		rel := offset - plicEnableBase
		ctx := rel / plicEnableStride
		lo := int((rel % plicEnableStride) / 4 * 32)
		var bits uint64
		for i := lo; i < p.numSources && i < lo+size*8; i++ {
			if p.enable[ctx][i] {
				bits |= 1 << uint(i-lo)
			}
		}
		return bits, nil
	case offset >= plicContextBase:
		ctx, reg := p.contextOffset(offset)
		switch reg {
		case 0: // threshold
			return uint64(p.threshold[ctx]), nil
		case 4: // claim/complete
			return uint64(p.claim(ctx)), nil
		}
	}
	return 0, nil
}

func (p *PLIC) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset >= plicPriorityBase && offset < plicPriorityBase+uint64(p.numSources)*4:
		idx := (offset - plicPriorityBase) / 4
		p.priority[idx] = uint32(value) & 0x7
	case offset >= plicEnableBase && offset < plicEnableBase+2*plicEnableStride:
		rel := offset - plicEnableBase
		ctx := rel / plicEnableStride
		lo := int((rel % plicEnableStride) / 4 * 32)
		for i := lo; i < p.numSources && i < lo+size*8; i++ {
			p.enable[ctx][i] = value&(1<<uint(i-lo)) != 0
		}
	case offset >= plicContextBase:
		ctx, reg := p.contextOffset(offset)
		switch reg {
		case 0:
			p.threshold[ctx] = uint32(value)
		case 4:
			p.complete(ctx, uint32(value))
		}
	}
	p.recompute()
	return nil
}

func (p *PLIC) contextOffset(offset uint64) (ctx, reg uint64) {
	rel := offset - plicContextBase
	return rel / plicContextStride, rel % plicContextStride
}

func (p *PLIC) claim(ctx uint64) uint32 {
	best := uint32(0)
	bestPriority := uint32(0)
	for i := 1; i < p.numSources; i++ {
		if p.pending[i] && !p.claimed[i] && p.enable[ctx][i] && p.priority[i] > p.threshold[ctx] {
			if p.priority[i] > bestPriority {
				bestPriority = p.priority[i]
				best = uint32(i)
			}
		}
	}
	if best != 0 {
		p.claimed[best] = true
		p.pending[best] = false
	}
	p.recompute()
	return best
}

func (p *PLIC) complete(ctx uint64, source uint32) {
	if int(source) < p.numSources {
		p.claimed[source] = false
	}
	p.recompute()
}

func (p *PLIC) recompute() {
	hart := p.harts[0]
	mPending := p.contextHasPending(0)
	sPending := p.contextHasPending(1)
	if mPending {
		hart.Mip |= MipMEIP
	} else {
		hart.Mip &^= MipMEIP
	}
	if sPending {
		hart.Mip |= MipSEIP
	} else {
		hart.Mip &^= MipSEIP
	}
}

func (p *PLIC) contextHasPending(ctx uint64) bool {
	for i := 1; i < p.numSources; i++ {
		if p.pending[i] && !p.claimed[i] && p.enable[ctx][i] && p.priority[i] > p.threshold[ctx] {
			return true
		}
	}
	return false
}

// Update satisfies Ticker; the PLIC's state changes only on register
// writes and SetPending, not with elapsed time.
func (p *PLIC) Update(delta uint64) {}
