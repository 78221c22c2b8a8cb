package riscv64

// Major opcodes (bits [6:0]).
const (
	OpLoad     = 0b0000011
	OpMiscMem  = 0b0001111
	OpImm      = 0b0010011
	OpAuipc    = 0b0010111
	OpImm32    = 0b0011011
	OpStore    = 0b0100011
	OpAMO      = 0b0101111
	OpOp       = 0b0110011
	OpLui      = 0b0110111
	OpOp32     = 0b0111011
	OpBranch   = 0b1100011
	OpJalr     = 0b1100111
	OpJal      = 0b1101111
	OpSystem   = 0b1110011
)

func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func rs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }
func shamt(insn uint32) uint32 { return (insn >> 20) & 0x3f }
func shamt32(insn uint32) uint32 { return (insn >> 20) & 0x1f }

func immI(insn uint32) uint64 { return signExtend(uint64(insn)>>20, 12) }
func immS(insn uint32) uint64 {
	v := ((insn >> 25) << 5) | ((insn >> 7) & 0x1f)
	return signExtend(uint64(v), 12)
}
func immB(insn uint32) uint64 {
	v := ((insn >> 31 & 1) << 12) | ((insn >> 7 & 1) << 11) | ((insn >> 25 & 0x3f) << 5) | ((insn >> 8 & 0xf) << 1)
	return signExtend(uint64(v), 13)
}
func immU(insn uint32) uint64 { return uint64(insn & 0xfffff000) }
func immJ(insn uint32) uint64 {
	v := ((insn >> 31 & 1) << 20) | ((insn >> 12 & 0xff) << 12) | ((insn >> 20 & 1) << 11) | ((insn >> 21 & 0x3ff) << 1)
	return signExtend(uint64(v), 21)
}

// decodeEntry is one line of the match-and-mask table: an opcode family
// matched by (insn & Mask) == Match, dispatched to Exec. Sub-opcode
// selection (funct3/funct7) happens inside Exec, matching the donor's own
// per-family switch structure; the table+cache operate at opcode
// granularity, which is where family dispatch genuinely branches.
type decodeEntry struct {
	Mask, Match uint32
	Name        string
	Exec        func(cpu *CPU, insn uint32) error
}

var decodeTable = []decodeEntry{
	{0x7f, OpLui, "LUI", (*CPU).execLui},
	{0x7f, OpAuipc, "AUIPC", (*CPU).execAuipc},
	{0x7f, OpJal, "JAL", (*CPU).execJal},
	{0x7f, OpJalr, "JALR", (*CPU).execJalr},
	{0x7f, OpBranch, "BRANCH", (*CPU).execBranch},
	{0x7f, OpLoad, "LOAD", (*CPU).execLoad},
	{0x7f, OpStore, "STORE", (*CPU).execStore},
	{0x7f, OpImm, "OP-IMM", (*CPU).execOpImm},
	{0x7f, OpImm32, "OP-IMM-32", (*CPU).execOpImm32},
	{0x7f, OpOp, "OP", (*CPU).execOp},
	{0x7f, OpOp32, "OP-32", (*CPU).execOp32},
	{0x7f, OpMiscMem, "MISC-MEM", (*CPU).execMiscMem},
	{0x7f, OpSystem, "SYSTEM", (*CPU).execSystem},
	{0x7f, OpAMO, "AMO", (*CPU).execAMO},
}

// decodeCache maps a raw 32-bit instruction word to its resolved table
// entry (spec §4.2/§9: "mapping from raw instruction to decode-entry
// reference; on miss fall back to linear match+insert"). Bounded so a
// pathological workload touching many unique encodings cannot grow this
// without limit; eviction policy has no effect on correctness.
type decodeCache struct {
	entries map[uint32]*decodeEntry
	cap     int
}

func newDecodeCache(capacity int) *decodeCache {
	return &decodeCache{entries: make(map[uint32]*decodeEntry, capacity), cap: capacity}
}

func (c *decodeCache) lookup(insn uint32) *decodeEntry {
	if e, ok := c.entries[insn]; ok {
		return e
	}
	for i := range decodeTable {
		e := &decodeTable[i]
		if insn&e.Mask == e.Match {
			if len(c.entries) >= c.cap {
				// Lazy clear: correctness does not depend on which
				// entries survive an eviction sweep.
				c.entries = make(map[uint32]*decodeEntry, c.cap)
			}
			c.entries[insn] = e
			return e
		}
	}
	return nil
}

// isCompressed reports whether the low two bits mark a 16-bit (RVC)
// encoding (spec §4.2).
func isCompressed(lo uint16) bool {
	return lo&0x3 != 0x3
}
