package riscv64

// CLINT implements the core-local interrupt controller: per-hart MSIP
// and MTIMECMP, plus a single global MTIME counter. Register offsets
// match the Sifive CLINT layout other platform code expects.
//
// Unlike a wall-clock timer, mtime here advances with instructions
// retired rather than real elapsed time: Update is driven by the step
// loop's instruction-count delta, which keeps timer-interrupt scenarios
// reproducible across runs instead of depending on host scheduling.
type CLINT struct {
	harts []*CPU

	msip     []uint32
	mtimecmp []uint64
	mtime    uint64
}

const (
	clintMSIPBase     = 0x0000
	clintMTimeCmpBase = 0x4000
	clintMTimeOffset  = 0xBFF8
)

// NewCLINT creates a CLINT serving the given harts, indexed in order.
func NewCLINT(harts ...*CPU) *CLINT {
	return &CLINT{
		harts:    harts,
		msip:     make([]uint32, len(harts)),
		mtimecmp: make([]uint64, len(harts)),
	}
}

func (c *CLINT) Name() string { return "clint" }

func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset == clintMTimeOffset && size == 8:
		return c.mtime, nil
	case offset == clintMTimeOffset && size == 4:
		return uint64(uint32(c.mtime)), nil
	case offset == clintMTimeOffset+4 && size == 4:
		return uint64(uint32(c.mtime >> 32)), nil
	case offset >= clintMSIPBase && offset < clintMSIPBase+uint64(len(c.msip))*4 && size == 4:
		idx := (offset - clintMSIPBase) / 4
		return uint64(c.msip[idx]), nil
	case offset >= clintMTimeCmpBase && offset < clintMTimeCmpBase+uint64(len(c.mtimecmp))*8 && size == 8:
		idx := (offset - clintMTimeCmpBase) / 8
		return c.mtimecmp[idx], nil
	case offset >= clintMTimeCmpBase && offset < clintMTimeCmpBase+uint64(len(c.mtimecmp))*8 && size == 4:
		idx := (offset - clintMTimeCmpBase) / 8
		if (offset-clintMTimeCmpBase)%8 == 0 {
			return uint64(uint32(c.mtimecmp[idx])), nil
		}
		return uint64(uint32(c.mtimecmp[idx] >> 32)), nil
	default:
		return 0, nil
	}
}

func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset == clintMTimeOffset && size == 8:
		c.mtime = value
	case offset == clintMTimeOffset && size == 4:
		c.mtime = (c.mtime &^ 0xffffffff) | (value & 0xffffffff)
	case offset == clintMTimeOffset+4 && size == 4:
		c.mtime = (c.mtime & 0xffffffff) | (value << 32)
	case offset >= clintMSIPBase && offset < clintMSIPBase+uint64(len(c.msip))*4 && size == 4:
		idx := (offset - clintMSIPBase) / 4
		c.msip[idx] = uint32(value) & 1
	case offset >= clintMTimeCmpBase && offset < clintMTimeCmpBase+uint64(len(c.mtimecmp))*8 && size == 8:
		idx := (offset - clintMTimeCmpBase) / 8
		c.mtimecmp[idx] = value
	case offset >= clintMTimeCmpBase && offset < clintMTimeCmpBase+uint64(len(c.mtimecmp))*8 && size == 4:
		idx := (offset - clintMTimeCmpBase) / 8
		if (offset-clintMTimeCmpBase)%8 == 0 {
			c.mtimecmp[idx] = (c.mtimecmp[idx] &^ 0xffffffff) | (value & 0xffffffff)
		} else {
			c.mtimecmp[idx] = (c.mtimecmp[idx] & 0xffffffff) | (value << 32)
		}
	}
	c.apply()
	return nil
}

// Update advances mtime by delta and re-evaluates MSIP/MTIP for every
// hart. delta is an instruction count, not a wall-clock duration.
func (c *CLINT) Update(delta uint64) {
	c.mtime += delta
	c.apply()
}

func (c *CLINT) apply() {
	for i, hart := range c.harts {
		if c.msip[i] != 0 {
			hart.Mip |= MipMSIP
		} else {
			hart.Mip &^= MipMSIP
		}
		if c.mtime >= c.mtimecmp[i] {
			hart.Mip |= MipMTIP
		} else {
			hart.Mip &^= MipMTIP
		}
	}
}
