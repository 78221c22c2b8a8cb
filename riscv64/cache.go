package riscv64

// cacheLineSize is the D-cache line granularity; the I-cache caches
// whole 32-bit fetch words instead since fetch never crosses a line on
// an aligned access.
const (
	cacheLineSize = 64
	dCacheLines   = 128
	iCacheWords   = 512
)

// ICache is a direct-mapped, read-only cache over fetched instruction
// words. A hit returns the cached word even if memory has changed since
// it was filled; Flush (run by FENCE.I and SFENCE.VMA) discards every entry.
type ICache struct {
	bus   BusInterface
	base  uint64
	limit uint64

	tagValid [iCacheWords]bool
	tags     [iCacheWords]uint64
	data     [iCacheWords]uint32
}

// NewICache wraps bus, caching only fetches that land in [base, base+size).
// Addresses outside that range always pass through uncached.
func NewICache(bus BusInterface, base, size uint64) *ICache {
	return &ICache{bus: bus, base: base, limit: base + size}
}

func (c *ICache) cacheable(addr uint64) bool {
	return addr >= c.base && addr < c.limit && addr%4 == 0
}

func (c *ICache) FetchWord(addr uint64) (uint32, error) {
	if !c.cacheable(addr) {
		return c.bus.Read32(addr)
	}
	idx := (addr / 4) % iCacheWords
	if c.tagValid[idx] && c.tags[idx] == addr {
		return c.data[idx], nil
	}
	v, err := c.bus.Read32(addr)
	if err != nil {
		return 0, err
	}
	c.tagValid[idx] = true
	c.tags[idx] = addr
	c.data[idx] = v
	return v, nil
}

func (c *ICache) Flush() {
	c.tagValid = [iCacheWords]bool{}
}

// DCache is a direct-mapped write-back cache with 64-byte lines. Each
// index has exactly one candidate line, so a miss always evicts
// whatever tag currently occupies that index (writing it back first if
// dirty); eviction policy has no effect on correctness, only on which
// line happens to be resident.
type DCache struct {
	bus   BusInterface
	base  uint64
	limit uint64

	valid [dCacheLines]bool
	dirty [dCacheLines]bool
	tags  [dCacheLines]uint64
	lines [dCacheLines][cacheLineSize]byte
}

func NewDCache(bus BusInterface, base, size uint64) *DCache {
	return &DCache{bus: bus, base: base, limit: base + size}
}

func (c *DCache) cacheable(addr uint64) bool {
	return addr >= c.base && addr < c.limit
}

func (c *DCache) lineTag(addr uint64) uint64 { return addr &^ (cacheLineSize - 1) }
func (c *DCache) index(tag uint64) int       { return int((tag / cacheLineSize) % dCacheLines) }

func (c *DCache) fill(idx int, tag uint64) error {
	if c.valid[idx] && c.dirty[idx] {
		if err := c.writeback(idx); err != nil {
			return err
		}
	}
	for i := 0; i < cacheLineSize; i += 8 {
		v, err := c.bus.Read64(tag + uint64(i))
		if err != nil {
			return err
		}
		cpuEndian.PutUint64(c.lines[idx][i:], v)
	}
	c.valid[idx] = true
	c.dirty[idx] = false
	c.tags[idx] = tag
	return nil
}

func (c *DCache) writeback(idx int) error {
	tag := c.tags[idx]
	for i := 0; i < cacheLineSize; i += 8 {
		v := cpuEndian.Uint64(c.lines[idx][i:])
		if err := c.bus.Write64(tag+uint64(i), v); err != nil {
			return err
		}
	}
	c.dirty[idx] = false
	return nil
}

func (c *DCache) lookup(addr uint64) (int, error) {
	tag := c.lineTag(addr)
	idx := c.index(tag)
	if c.valid[idx] && c.tags[idx] == tag {
		return idx, nil
	}
	if err := c.fill(idx, tag); err != nil {
		return 0, err
	}
	return idx, nil
}

func (c *DCache) Read8(addr uint64) (uint8, error) {
	if !c.cacheable(addr) {
		return c.bus.Read8(addr)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return 0, err
	}
	return c.lines[idx][addr%cacheLineSize], nil
}

func (c *DCache) Read16(addr uint64) (uint16, error) {
	if !c.cacheable(addr) {
		return c.bus.Read16(addr)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return 0, err
	}
	return cpuEndian.Uint16(c.lines[idx][addr%cacheLineSize:]), nil
}

func (c *DCache) Read32(addr uint64) (uint32, error) {
	if !c.cacheable(addr) {
		return c.bus.Read32(addr)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return 0, err
	}
	return cpuEndian.Uint32(c.lines[idx][addr%cacheLineSize:]), nil
}

func (c *DCache) Read64(addr uint64) (uint64, error) {
	if !c.cacheable(addr) {
		return c.bus.Read64(addr)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return 0, err
	}
	return cpuEndian.Uint64(c.lines[idx][addr%cacheLineSize:]), nil
}

func (c *DCache) Write8(addr uint64, v uint8) error {
	if !c.cacheable(addr) {
		return c.bus.Write8(addr, v)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return err
	}
	c.lines[idx][addr%cacheLineSize] = v
	c.dirty[idx] = true
	return nil
}

func (c *DCache) Write16(addr uint64, v uint16) error {
	if !c.cacheable(addr) {
		return c.bus.Write16(addr, v)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return err
	}
	cpuEndian.PutUint16(c.lines[idx][addr%cacheLineSize:], v)
	c.dirty[idx] = true
	return nil
}

func (c *DCache) Write32(addr uint64, v uint32) error {
	if !c.cacheable(addr) {
		return c.bus.Write32(addr, v)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return err
	}
	cpuEndian.PutUint32(c.lines[idx][addr%cacheLineSize:], v)
	c.dirty[idx] = true
	return nil
}

func (c *DCache) Write64(addr uint64, v uint64) error {
	if !c.cacheable(addr) {
		return c.bus.Write64(addr, v)
	}
	idx, err := c.lookup(addr)
	if err != nil {
		return err
	}
	cpuEndian.PutUint64(c.lines[idx][addr%cacheLineSize:], v)
	c.dirty[idx] = true
	return nil
}

// Flush writes back every dirty line and invalidates the cache, used on
// FENCE.I and SFENCE.VMA.
func (c *DCache) Flush() {
	for idx := range c.valid {
		if c.valid[idx] && c.dirty[idx] {
			c.writeback(idx)
		}
		c.valid[idx] = false
	}
}
