package riscv64

// Execute decodes and runs one already-fetched 4-byte instruction
// word through the decode cache, committing PC on success. Compressed
// instructions go through ExecuteSized with their 2-byte width after
// expansion.
func (cpu *CPU) Execute(insn uint32) error {
	return cpu.ExecuteSized(insn, 4)
}

// ExecuteSized runs one instruction whose encoding occupied size bytes
// (2 for an expanded compressed instruction, 4 otherwise). The default
// next PC is PC+size; jumps, branches and xRET overwrite it. On
// success the instruction retires and PC advances to NPC; on a trap PC
// is left at the faulting instruction so the trap engine records the
// correct xepc.
func (cpu *CPU) ExecuteSized(insn uint32, size uint64) error {
	e := cpu.decodeCache.lookup(insn)
	if e == nil {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	cpu.NPC = cpu.PC + size
	if err := e.Exec(cpu, insn); err != nil {
		return err
	}
	cpu.PC = cpu.NPC
	return nil
}

// checkJumpTarget enforces §4.3's target-alignment rule: 2-byte
// alignment with the C extension, 4-byte without it.
func (cpu *CPU) checkJumpTarget(target uint64) error {
	align := uint64(0b1)
	if cpu.Misa&MisaC == 0 {
		align = 0b11
	}
	if target&align != 0 {
		return Exception(CauseInsnAddrMisaligned, target)
	}
	return nil
}

func (cpu *CPU) execLui(insn uint32) error {
	cpu.WriteReg(rd(insn), immU(insn))
	return nil
}

func (cpu *CPU) execAuipc(insn uint32) error {
	cpu.WriteReg(rd(insn), cpu.PC+immU(insn))
	return nil
}

func (cpu *CPU) execJal(insn uint32) error {
	target := cpu.PC + immJ(insn)
	if err := cpu.checkJumpTarget(target); err != nil {
		return err
	}
	cpu.WriteReg(rd(insn), cpu.NPC)
	cpu.NPC = target
	return nil
}

func (cpu *CPU) execJalr(insn uint32) error {
	base := cpu.ReadReg(rs1(insn))
	target := (base + immI(insn)) &^ 1
	if err := cpu.checkJumpTarget(target); err != nil {
		return err
	}
	link := cpu.NPC
	cpu.NPC = target
	cpu.WriteReg(rd(insn), link)
	return nil
}

func (cpu *CPU) execBranch(insn uint32) error {
	a := cpu.ReadReg(rs1(insn))
	b := cpu.ReadReg(rs2(insn))
	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = a == b
	case 0b001: // BNE
		taken = a != b
	case 0b100: // BLT
		taken = int64(a) < int64(b)
	case 0b101: // BGE
		taken = int64(a) >= int64(b)
	case 0b110: // BLTU
		taken = a < b
	case 0b111: // BGEU
		taken = a >= b
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	if taken {
		target := cpu.PC + immB(insn)
		if err := cpu.checkJumpTarget(target); err != nil {
			return err
		}
		cpu.NPC = target
	}
	return nil
}

func (cpu *CPU) execLoad(insn uint32) error {
	f3 := funct3(insn)
	if f3 == 0b111 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	addr := cpu.ReadReg(rs1(insn)) + immI(insn)
	if size := uint64(1) << (f3 & 0x3); addr%size != 0 {
		return Exception(CauseLoadAddrMisaligned, addr)
	}
	paddr, err := cpu.translatedLoadStore(addr, AccessRead)
	if err != nil {
		return err
	}

	var val uint64
	switch f3 {
	case 0b000: // LB
		v, e := cpu.read8(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = signExtend(uint64(v), 8)
	case 0b001: // LH
		v, e := cpu.read16(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = signExtend(uint64(v), 16)
	case 0b010: // LW
		v, e := cpu.read32(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = signExtend32(v)
	case 0b011: // LD
		v, e := cpu.read64(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = v
	case 0b100: // LBU
		v, e := cpu.read8(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = uint64(v)
	case 0b101: // LHU
		v, e := cpu.read16(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = uint64(v)
	case 0b110: // LWU
		v, e := cpu.read32(paddr)
		if e != nil {
			return Exception(CauseLoadAccessFault, addr)
		}
		val = uint64(v)
	}
	cpu.WriteReg(rd(insn), val)
	return nil
}

func (cpu *CPU) execStore(insn uint32) error {
	f3 := funct3(insn)
	if f3 > 0b011 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	addr := cpu.ReadReg(rs1(insn)) + immS(insn)
	if size := uint64(1) << f3; addr%size != 0 {
		return Exception(CauseStoreAddrMisaligned, addr)
	}
	paddr, err := cpu.translatedLoadStore(addr, AccessWrite)
	if err != nil {
		return err
	}
	val := cpu.ReadReg(rs2(insn))
	switch f3 {
	case 0b000:
		err = cpu.write8(paddr, uint8(val))
	case 0b001:
		err = cpu.write16(paddr, uint16(val))
	case 0b010:
		err = cpu.write32(paddr, uint32(val))
	case 0b011:
		err = cpu.write64(paddr, val)
	}
	if err != nil {
		return Exception(CauseStoreAccessFault, addr)
	}
	return nil
}

// translatedLoadStore translates a load/store address through the MMU;
// the read/write helpers below route the access through the D-cache
// when one is configured (spec §4.8).
func (cpu *CPU) translatedLoadStore(vaddr uint64, access int) (uint64, error) {
	return cpu.MMU.Translate(vaddr, access)
}

func (cpu *CPU) read8(paddr uint64) (uint8, error) {
	if cpu.DCache != nil {
		return cpu.DCache.Read8(paddr)
	}
	return cpu.Bus.Read8(paddr)
}
func (cpu *CPU) read16(paddr uint64) (uint16, error) {
	if cpu.DCache != nil {
		return cpu.DCache.Read16(paddr)
	}
	return cpu.Bus.Read16(paddr)
}
func (cpu *CPU) read32(paddr uint64) (uint32, error) {
	if cpu.DCache != nil {
		return cpu.DCache.Read32(paddr)
	}
	return cpu.Bus.Read32(paddr)
}
func (cpu *CPU) read64(paddr uint64) (uint64, error) {
	if cpu.DCache != nil {
		return cpu.DCache.Read64(paddr)
	}
	return cpu.Bus.Read64(paddr)
}
func (cpu *CPU) write8(paddr uint64, v uint8) error {
	if cpu.DCache != nil {
		return cpu.DCache.Write8(paddr, v)
	}
	return cpu.Bus.Write8(paddr, v)
}
func (cpu *CPU) write16(paddr uint64, v uint16) error {
	if cpu.DCache != nil {
		return cpu.DCache.Write16(paddr, v)
	}
	return cpu.Bus.Write16(paddr, v)
}
func (cpu *CPU) write32(paddr uint64, v uint32) error {
	if cpu.DCache != nil {
		return cpu.DCache.Write32(paddr, v)
	}
	return cpu.Bus.Write32(paddr, v)
}
func (cpu *CPU) write64(paddr uint64, v uint64) error {
	if cpu.DCache != nil {
		return cpu.DCache.Write64(paddr, v)
	}
	return cpu.Bus.Write64(paddr, v)
}

func (cpu *CPU) execOpImm(insn uint32) error {
	a := cpu.ReadReg(rs1(insn))
	imm := immI(insn)
	var result uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		result = a + imm
	case 0b010: // SLTI
		if int64(a) < int64(imm) {
			result = 1
		}
	case 0b011: // SLTIU
		if a < imm {
			result = 1
		}
	case 0b100: // XORI
		result = a ^ imm
	case 0b110: // ORI
		result = a | imm
	case 0b111: // ANDI
		result = a & imm
	case 0b001: // SLLI
		result = a << shamt(insn)
	case 0b101: // SRLI/SRAI
		if funct7(insn)>>5&1 != 0 {
			result = uint64(int64(a) >> shamt(insn))
		} else {
			result = a >> shamt(insn)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	cpu.WriteReg(rd(insn), result)
	return nil
}

func (cpu *CPU) execOpImm32(insn uint32) error {
	a := uint32(cpu.ReadReg(rs1(insn)))
	imm := uint32(immI(insn))
	var result uint32
	switch funct3(insn) {
	case 0b000: // ADDIW
		result = a + imm
	case 0b001: // SLLIW
		result = a << shamt32(insn)
	case 0b101: // SRLIW/SRAIW
		if funct7(insn)>>5&1 != 0 {
			result = uint32(int32(a) >> shamt32(insn))
		} else {
			result = a >> shamt32(insn)
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	cpu.WriteReg(rd(insn), signExtend32(result))
	return nil
}

func (cpu *CPU) execOp(insn uint32) error {
	a := cpu.ReadReg(rs1(insn))
	b := cpu.ReadReg(rs2(insn))
	f3 := funct3(insn)
	f7 := funct7(insn)

	var result uint64
	switch {
	case f7 == 0b0000001: // RV64M
		switch f3 {
		case 0b000: // MUL
			result = a * b
		case 0b001: // MULH
			result = mulh64(int64(a), int64(b))
		case 0b010: // MULHSU
			result = mulhsu64(int64(a), b)
		case 0b011: // MULHU
			result = mulhu64(a, b)
		case 0b100: // DIV
			result = divS64(int64(a), int64(b))
		case 0b101: // DIVU
			result = divU64(a, b)
		case 0b110: // REM
			result = remS64(int64(a), int64(b))
		case 0b111: // REMU
			result = remU64(a, b)
		}
	case f3 == 0b000:
		if f7>>5&1 != 0 {
			result = a - b // SUB
		} else {
			result = a + b // ADD
		}
	case f3 == 0b001:
		result = a << (b & 0x3f) // SLL
	case f3 == 0b010:
		if int64(a) < int64(b) {
			result = 1
		} // SLT
	case f3 == 0b011:
		if a < b {
			result = 1
		} // SLTU
	case f3 == 0b100:
		result = a ^ b // XOR
	case f3 == 0b101:
		if f7>>5&1 != 0 {
			result = uint64(int64(a) >> (b & 0x3f)) // SRA
		} else {
			result = a >> (b & 0x3f) // SRL
		}
	case f3 == 0b110:
		result = a | b // OR
	case f3 == 0b111:
		result = a & b // AND
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	cpu.WriteReg(rd(insn), result)
	return nil
}

func (cpu *CPU) execOp32(insn uint32) error {
	a := uint32(cpu.ReadReg(rs1(insn)))
	b := uint32(cpu.ReadReg(rs2(insn)))
	f3 := funct3(insn)
	f7 := funct7(insn)

	var result uint32
	switch {
	case f7 == 0b0000001: // RV64M word ops
		switch f3 {
		case 0b000: // MULW
			result = a * b
		case 0b100: // DIVW
			result = divS32(int32(a), int32(b))
		case 0b101: // DIVUW
			result = divU32(a, b)
		case 0b110: // REMW
			result = remS32(int32(a), int32(b))
		case 0b111: // REMUW
			result = remU32(a, b)
		default:
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	case f3 == 0b000:
		if f7>>5&1 != 0 {
			result = a - b // SUBW
		} else {
			result = a + b // ADDW
		}
	case f3 == 0b001:
		result = a << (b & 0x1f) // SLLW
	case f3 == 0b101:
		if f7>>5&1 != 0 {
			result = uint32(int32(a) >> (b & 0x1f)) // SRAW
		} else {
			result = a >> (b & 0x1f) // SRLW
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	cpu.WriteReg(rd(insn), signExtend32(result))
	return nil
}

// execMiscMem handles FENCE/FENCE.I (Zifencei). Single-hart, in-order
// execution makes FENCE itself a no-op; FENCE.I flushes the I-cache if
// present (spec §4.8 invalidation points).
func (cpu *CPU) execMiscMem(insn uint32) error {
	if funct3(insn) == 0b001 { // FENCE.I
		if cpu.ICache != nil {
			cpu.ICache.Flush()
		}
		if cpu.DCache != nil {
			cpu.DCache.Flush()
		}
	}
	return nil
}

func (cpu *CPU) execSystem(insn uint32) error {
	f3 := funct3(insn)
	if f3 == 0 {
		switch insn {
		case 0x00000073: // ECALL
			var cause uint64
			switch cpu.Priv {
			case PrivUser:
				cause = CauseEcallFromU
			case PrivSupervisor:
				cause = CauseEcallFromS
			default:
				cause = CauseEcallFromM
			}
			return Exception(cause, 0)
		case 0x00100073: // EBREAK
			return Exception(CauseBreakpoint, 0)
		case 0x30200073: // MRET
			return cpu.handleMret()
		case 0x10200073: // SRET
			return cpu.handleSret()
		case 0x10500073: // WFI
			cpu.WFI = true
			return nil
		default:
			if funct7(insn) == 0b0001001 { // SFENCE.VMA
				if cpu.Mstatus&MstatusTVM != 0 && cpu.Priv != PrivMachine {
					return Exception(CauseIllegalInsn, uint64(insn))
				}
				if rs1(insn) == 0 {
					cpu.MMU.FlushTLB()
				} else {
					cpu.MMU.FlushTLBEntry(cpu.ReadReg(rs1(insn)))
				}
				if cpu.ICache != nil {
					cpu.ICache.Flush()
				}
				if cpu.DCache != nil {
					cpu.DCache.Flush()
				}
				return nil
			}
			return Exception(CauseIllegalInsn, uint64(insn))
		}
	}
	return cpu.execCSR(insn, f3)
}

// execCSR implements CSRRW/CSRRS/CSRRC and their immediate forms per
// spec §4.4: read t, compute the replaced/set/cleared value, and write
// back only when the result differs from t, so an unchanged value
// never attempts a write or its side effects.
func (cpu *CPU) execCSR(insn uint32, f3 uint32) error {
	csr := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)

	old, err := cpu.csrRead(csr)
	if err != nil {
		return err
	}

	var input uint64
	switch f3 {
	case 0b001, 0b010, 0b011:
		input = cpu.ReadReg(rs1Reg)
	case 0b101, 0b110, 0b111:
		input = uint64(rs1Reg)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	var newVal uint64
	switch f3 {
	case 0b001, 0b101: // CSRRW / CSRRWI
		newVal = input
	case 0b010, 0b110: // CSRRS / CSRRSI
		newVal = old | input
	case 0b011, 0b111: // CSRRC / CSRRCI
		newVal = old &^ input
	}

	if newVal != old {
		if err := cpu.csrWrite(csr, newVal); err != nil {
			return err
		}
	}

	cpu.WriteReg(rdReg, old)
	return nil
}
