package riscv64

// ExpandCompressed converts a 16-bit RVC encoding to its equivalent
// 32-bit instruction so it can be re-dispatched through Execute. Returns
// illegal-instruction for any quadrant/funct3 combination not defined by
// the C extension subset this hart implements (no F/D compressed forms).
func ExpandCompressed(c uint16) (uint32, error) {
	quadrant := c & 0x3
	f3 := (c >> 13) & 0x7

	rdRs1p := func(v uint16) uint32 { return uint32((v>>7)&0x7) + 8 }
	rs2p := func(v uint16) uint32 { return uint32((v>>2)&0x7) + 8 }

	switch quadrant {
	case 0b00:
		switch f3 {
		case 0b000: // C.ADDI4SPN
			imm := ((c >> 7) & 0x30) | ((c >> 1) & 0x3c0) | ((c >> 4) & 0x4) | ((c >> 2) & 0x8)
			if imm == 0 {
				return 0, Exception(CauseIllegalInsn, uint64(c))
			}
			rd := rs2p(c)
			return encodeI(OpImm, rd, 0, 2, uint32(imm)), nil
		case 0b010: // C.LW
			imm := ((c >> 4) & 0x4) | ((c << 1) & 0x40) | ((c >> 7) & 0x38)
			rd := rs2p(c)
			rs1 := rdRs1p(c)
			return encodeI(OpLoad, rd, 2, rs1, uint32(imm)), nil
		case 0b011: // C.LD
			imm := ((c >> 7) & 0x38) | ((c << 1) & 0xc0)
			rd := rs2p(c)
			rs1 := rdRs1p(c)
			return encodeI(OpLoad, rd, 3, rs1, uint32(imm)), nil
		case 0b110: // C.SW
			imm := ((c >> 4) & 0x4) | ((c << 1) & 0x40) | ((c >> 7) & 0x38)
			rs1 := rdRs1p(c)
			rs2 := rs2p(c)
			return encodeS(OpStore, 2, rs1, rs2, uint32(imm)), nil
		case 0b111: // C.SD
			imm := ((c >> 7) & 0x38) | ((c << 1) & 0xc0)
			rs1 := rdRs1p(c)
			rs2 := rs2p(c)
			return encodeS(OpStore, 3, rs1, rs2, uint32(imm)), nil
		default:
			return 0, Exception(CauseIllegalInsn, uint64(c))
		}

	case 0b01:
		rdField := uint32((c >> 7) & 0x1f)
		switch f3 {
		case 0b000: // C.ADDI / C.NOP
			imm := signExtend(uint64(((c>>7)&0x20)|((c>>2)&0x1f)), 6)
			return encodeI(OpImm, rdField, 0, rdField, uint32(imm)), nil
		case 0b001: // C.ADDIW
			imm := signExtend(uint64(((c>>7)&0x20)|((c>>2)&0x1f)), 6)
			return encodeI(OpImm32, rdField, 0, rdField, uint32(imm)), nil
		case 0b010: // C.LI
			imm := signExtend(uint64(((c>>7)&0x20)|((c>>2)&0x1f)), 6)
			return encodeI(OpImm, rdField, 0, 0, uint32(imm)), nil
		case 0b011:
			if rdField == 2 { // C.ADDI16SP
				imm := ((c >> 3) & 0x200) | ((c >> 2) & 0x10) | ((c << 1) & 0x40) |
					((c << 4) & 0x180) | ((c << 3) & 0x20)
				return encodeI(OpImm, 2, 0, 2, uint32(signExtend(uint64(imm), 10))), nil
			}
			// C.LUI
			imm := (uint32(c&0x1000) << 5) | (uint32(c&0x7c) << 10)
			se := uint32(signExtend(uint64(imm), 18))
			return encodeU(OpLui, rdField, se), nil
		case 0b100:
			funct2a := (c >> 10) & 0x3
			rdp := rdRs1p(c)
			switch funct2a {
			case 0b00: // C.SRLI
				shamt := uint32(((c >> 7) & 0x20) | ((c >> 2) & 0x1f))
				return encodeIShift(OpImm, rdp, 5, rdp, shamt, 0), nil
			case 0b01: // C.SRAI
				shamt := uint32(((c >> 7) & 0x20) | ((c >> 2) & 0x1f))
				return encodeIShift(OpImm, rdp, 5, rdp, shamt, 0x20), nil
			case 0b10: // C.ANDI
				imm := signExtend(uint64(((c>>7)&0x20)|((c>>2)&0x1f)), 6)
				return encodeI(OpImm, rdp, 7, rdp, uint32(imm)), nil
			case 0b11:
				rs2 := rs2p(c)
				bit12 := (c >> 12) & 1
				f2b := (c >> 5) & 0x3
				if bit12 == 0 {
					switch f2b {
					case 0b00:
						return encodeR(OpOp, rdp, 0, rdp, rs2, 0x20), nil // C.SUB
					case 0b01:
						return encodeR(OpOp, rdp, 4, rdp, rs2, 0), nil // C.XOR
					case 0b10:
						return encodeR(OpOp, rdp, 6, rdp, rs2, 0), nil // C.OR
					case 0b11:
						return encodeR(OpOp, rdp, 7, rdp, rs2, 0), nil // C.AND
					}
				} else {
					switch f2b {
					case 0b00:
						return encodeR(OpOp32, rdp, 0, rdp, rs2, 0x20), nil // C.SUBW
					case 0b01:
						return encodeR(OpOp32, rdp, 0, rdp, rs2, 0), nil // C.ADDW
					}
				}
				return 0, Exception(CauseIllegalInsn, uint64(c))
			}
		case 0b101: // C.J
			imm := decodeCJImm(c)
			return encodeJ(OpJal, 0, imm), nil
		case 0b110: // C.BEQZ
			rs1 := rdRs1p(c)
			imm := decodeCBImm(c)
			return encodeB(OpBranch, 0, rs1, 0, imm), nil
		case 0b111: // C.BNEZ
			rs1 := rdRs1p(c)
			imm := decodeCBImm(c)
			return encodeB(OpBranch, 1, rs1, 0, imm), nil
		}
		return 0, Exception(CauseIllegalInsn, uint64(c))

	case 0b10:
		rdField := uint32((c >> 7) & 0x1f)
		switch f3 {
		case 0b000: // C.SLLI
			shamt := uint32(((c >> 7) & 0x20) | ((c >> 2) & 0x1f))
			return encodeIShift(OpImm, rdField, 1, rdField, shamt, 0), nil
		case 0b010: // C.LWSP
			imm := uint32(((c >> 7) & 0x20) | ((c >> 2) & 0x1c) | ((c << 4) & 0xc0))
			return encodeI(OpLoad, rdField, 2, 2, imm), nil
		case 0b011: // C.LDSP
			imm := uint32(((c >> 7) & 0x20) | ((c >> 2) & 0x18) | ((c << 4) & 0x1c0))
			return encodeI(OpLoad, rdField, 3, 2, imm), nil
		case 0b100:
			bit12 := (c >> 12) & 1
			rs2 := uint32((c >> 2) & 0x1f)
			if bit12 == 0 {
				if rs2 == 0 { // C.JR
					return encodeI(OpJalr, 0, 0, rdField, 0), nil
				}
				// C.MV
				return encodeR(OpOp, rdField, 0, 0, rs2, 0), nil
			}
			if rdField == 0 && rs2 == 0 { // C.EBREAK
				return 0x00100073, nil
			}
			if rs2 == 0 { // C.JALR
				return encodeI(OpJalr, 1, 0, rdField, 0), nil
			}
			// C.ADD
			return encodeR(OpOp, rdField, 0, rdField, rs2, 0), nil
		case 0b110: // C.SWSP
			imm := uint32(((c >> 7) & 0x3c) | ((c >> 1) & 0xc0))
			rs2 := uint32((c >> 2) & 0x1f)
			return encodeS(OpStore, 2, 2, rs2, imm), nil
		case 0b111: // C.SDSP
			imm := uint32(((c >> 7) & 0x38) | ((c >> 1) & 0x1c0))
			rs2 := uint32((c >> 2) & 0x1f)
			return encodeS(OpStore, 3, 2, rs2, imm), nil
		}
		return 0, Exception(CauseIllegalInsn, uint64(c))
	}
	return 0, Exception(CauseIllegalInsn, uint64(c))
}

func decodeCJImm(c uint16) uint32 {
	v := ((c >> 1) & 0x800) | ((c << 2) & 0x400) | ((c >> 1) & 0x300) |
		((c << 1) & 0x80) | ((c >> 1) & 0x40) | ((c << 3) & 0x20) |
		((c >> 7) & 0x10) | ((c >> 2) & 0xe)
	return uint32(signExtend(uint64(v), 12))
}

func decodeCBImm(c uint16) uint32 {
	v := ((c >> 4) & 0x100) | ((c << 1) & 0xc0) | ((c << 3) & 0x20) |
		((c >> 7) & 0x18) | ((c >> 2) & 0x6)
	return uint32(signExtend(uint64(v), 9))
}

func encodeI(opc uint32, rd uint32, f3 uint32, rs1 uint32, imm uint32) uint32 {
	return (imm&0xfff)<<20 | rs1<<15 | f3<<12 | rd<<7 | opc
}
func encodeIShift(opc uint32, rd uint32, f3 uint32, rs1 uint32, shamt uint32, hi uint32) uint32 {
	return hi<<25 | (shamt&0x3f)<<20 | rs1<<15 | f3<<12 | rd<<7 | opc
}
func encodeS(opc uint32, f3 uint32, rs1 uint32, rs2 uint32, imm uint32) uint32 {
	return (imm&0xfe0)<<20 | rs2<<20 | rs1<<15 | f3<<12 | (imm&0x1f)<<7 | opc
}
func encodeU(opc uint32, rd uint32, imm uint32) uint32 {
	return (imm & 0xfffff000) | rd<<7 | opc
}
func encodeR(opc uint32, rd uint32, f3 uint32, rs1 uint32, rs2 uint32, f7 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | opc
}
func encodeJ(opc uint32, rd uint32, imm uint32) uint32 {
	v := ((imm & 0x100000) << 11) | ((imm & 0x7fe) << 20) | ((imm & 0x800) << 9) | (imm & 0xff000)
	return v | rd<<7 | opc
}
func encodeB(opc uint32, f3 uint32, rs1 uint32, rs2 uint32, imm uint32) uint32 {
	v := ((imm & 0x1000) << 19) | ((imm & 0x7e0) << 20) | ((imm & 0x1e) << 7) | ((imm & 0x800) >> 4)
	return v | rs2<<20 | rs1<<15 | f3<<12 | opc
}
