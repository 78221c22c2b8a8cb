package riscv64

// AMO/LR/SC funct5 codes (insn[31:27]).
const (
	amoLR      = 0b00010
	amoSC      = 0b00011
	amoSwap    = 0b00001
	amoAdd     = 0b00000
	amoXor     = 0b00100
	amoAnd     = 0b01100
	amoOr      = 0b01000
	amoMin     = 0b10000
	amoMax     = 0b10100
	amoMinu    = 0b11000
	amoMaxu    = 0b11100
)

func amoFunct5(insn uint32) uint32 { return funct7(insn) >> 2 }

// execAMO implements the RV64A extension: LR.W/D, SC.W/D, and the AMO*
// read-modify-write family, each guarded by a single global reservation
// slot (no per-address reservation set is modeled).
func (cpu *CPU) execAMO(insn uint32) error {
	width := funct3(insn)
	if width != 0b010 && width != 0b011 {
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	size := 4
	if width == 0b011 {
		size = 8
	}

	addr := cpu.ReadReg(rs1(insn))
	f5 := amoFunct5(insn)

	if f5 == amoLR {
		if addr%uint64(size) != 0 {
			return Exception(CauseLoadAddrMisaligned, addr)
		}
		paddr, err := cpu.MMU.Translate(addr, AccessRead)
		if err != nil {
			return err
		}
		var val uint64
		if size == 4 {
			v, err := cpu.read32(paddr)
			if err != nil {
				return Exception(CauseLoadAccessFault, addr)
			}
			val = signExtend32(v)
		} else {
			v, err := cpu.read64(paddr)
			if err != nil {
				return Exception(CauseLoadAccessFault, addr)
			}
			val = v
		}
		cpu.Reservation = addr
		cpu.ReservationValid = true
		cpu.WriteReg(rd(insn), val)
		return nil
	}

	if f5 == amoSC {
		if addr%uint64(size) != 0 {
			return Exception(CauseStoreAddrMisaligned, addr)
		}
		var result uint64 = 1
		if cpu.ReservationValid && cpu.Reservation == addr {
			paddr, err := cpu.MMU.Translate(addr, AccessWrite)
			if err != nil {
				return err
			}
			val := cpu.ReadReg(rs2(insn))
			if size == 4 {
				err = cpu.write32(paddr, uint32(val))
			} else {
				err = cpu.write64(paddr, val)
			}
			if err != nil {
				return Exception(CauseStoreAccessFault, addr)
			}
			result = 0
		}
		cpu.ReservationValid = false
		cpu.WriteReg(rd(insn), result)
		return nil
	}

	if addr%uint64(size) != 0 {
		return Exception(CauseStoreAddrMisaligned, addr)
	}
	paddr, err := cpu.MMU.Translate(addr, AccessWrite)
	if err != nil {
		return err
	}

	var old uint64
	if size == 4 {
		v, err := cpu.read32(paddr)
		if err != nil {
			return Exception(CauseStoreAccessFault, addr)
		}
		old = signExtend32(v)
	} else {
		old, err = cpu.read64(paddr)
		if err != nil {
			return Exception(CauseStoreAccessFault, addr)
		}
	}

	rhs := cpu.ReadReg(rs2(insn))
	var result uint64
	switch f5 {
	case amoSwap:
		result = rhs
	case amoAdd:
		result = old + rhs
	case amoXor:
		result = old ^ rhs
	case amoAnd:
		result = old & rhs
	case amoOr:
		result = old | rhs
	case amoMin:
		if size == 4 {
			if int32(old) < int32(rhs) {
				result = old
			} else {
				result = rhs
			}
		} else {
			if int64(old) < int64(rhs) {
				result = old
			} else {
				result = rhs
			}
		}
	case amoMax:
		if size == 4 {
			if int32(old) > int32(rhs) {
				result = old
			} else {
				result = rhs
			}
		} else {
			if int64(old) > int64(rhs) {
				result = old
			} else {
				result = rhs
			}
		}
	case amoMinu:
		var a, b uint64 = old, rhs
		if size == 4 {
			a, b = uint64(uint32(old)), uint64(uint32(rhs))
		}
		if a < b {
			result = a
		} else {
			result = b
		}
	case amoMaxu:
		var a, b uint64 = old, rhs
		if size == 4 {
			a, b = uint64(uint32(old)), uint64(uint32(rhs))
		}
		if a > b {
			result = a
		} else {
			result = b
		}
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	if size == 4 {
		err = cpu.write32(paddr, uint32(result))
	} else {
		err = cpu.write64(paddr, result)
	}
	if err != nil {
		return Exception(CauseStoreAccessFault, addr)
	}

	cpu.WriteReg(rd(insn), old)
	// Any store through this address (including by another hart, not
	// modeled here) invalidates a matching reservation.
	if cpu.ReservationValid && cpu.Reservation == addr {
		cpu.ReservationValid = false
	}
	return nil
}
