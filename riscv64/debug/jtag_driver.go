package debug

// DTM register addresses selected via IR (JTAG DTM registers, external
// debug spec table 6.1).
const (
	RegBypass0 = 0x00
	RegIDCode  = 0x01
	RegDtmcs   = 0x10
	RegDmi     = 0x11
	RegBypass1 = 0x1f
)

// DTMIDCode is the fixed IDCODE this TAP reports: version=1, a
// placeholder part number, manufacturer id bit11..1 ending in the
// mandatory '1'.
const DTMIDCode uint32 = (1 << 28) | (0x1234 << 12) | (0x7ff << 1) | 1

// dmiAbits is the width of the DMI address field; dmiDRLen is the total
// shift-register length for the DMI register: abits + 32 data bits + 2
// op bits.
const (
	dmiAbits = 6
	dmiDRLen = dmiAbits + 34
)

// DMI op codes.
const (
	DMINop   = 0
	DMIRead  = 1
	DMIWrite = 2
)

// DMI status codes returned in the op field after an operation.
const (
	DMISuccess = 0
	DMIFailed  = 2
	DMIBusy    = 3
)

// DMIBackend is the register-space contract a Debug Module exposes to
// the DTM; JtagDriver never touches DebugModule internals directly.
type DMIBackend interface {
	DMIRead(addr uint32) (uint32, error)
	DMIWrite(addr uint32, value uint32) error
}

// ShifterRegister is a fixed-length bit buffer shifted one bit at a
// time, LSB-first, matching the JTAG shift convention.
type ShifterRegister struct {
	bits   uint64
	length int
}

func NewShifter(length int) ShifterRegister {
	return ShifterRegister{length: length}
}

func (s *ShifterRegister) Set(length int, value uint64) {
	s.length = length
	mask := uint64(1)<<uint(length) - 1
	if length >= 64 {
		mask = ^uint64(0)
	}
	s.bits = value & mask
}

func (s *ShifterRegister) Clear(length int) { s.Set(length, 0) }

func (s *ShifterRegister) Data() uint64 { return s.bits }

// ShiftRight shifts tdiBit in at the top and returns the bit shifted
// out at the bottom (the bit sampled as TDO).
func (s *ShifterRegister) ShiftRight(tdiBit bool) bool {
	out := s.bits&1 != 0
	s.bits >>= 1
	if tdiBit {
		s.bits |= uint64(1) << uint(s.length-1)
	}
	return out
}

// JtagDriver implements the TAP controller plus the DTM register file
// (IDCODE/DTMCS/DMI/BYPASS) selected through IR.
type JtagDriver struct {
	state   TapState
	lastTCK bool

	ir ShifterRegister
	dr ShifterRegister

	tdo bool

	dmiAddr   uint32
	dmiData   uint32
	dmiStatus uint32

	backend DMIBackend
}

// NewJtagDriver creates a TAP bound to backend, the Debug Module's DMI
// register space.
func NewJtagDriver(backend DMIBackend) *JtagDriver {
	d := &JtagDriver{backend: backend}
	d.ir = NewShifter(5)
	d.ir.Set(5, RegIDCode)
	d.dr = NewShifter(32)
	d.state = TestLogicReset
	return d
}

func (d *JtagDriver) State() TapState { return d.state }

// Reset returns the TAP to TestLogicReset, matching a pulse on the
// dedicated TRST line or the Remote Bitbang 'r' command.
func (d *JtagDriver) Reset() {
	d.state = TestLogicReset
	d.ir.Set(5, RegIDCode)
}

func (d *JtagDriver) selectedReg() int {
	switch d.ir.Data() {
	case RegIDCode:
		return RegIDCode
	case RegDtmcs:
		return RegDtmcs
	case RegDmi:
		return RegDmi
	default:
		return RegBypass0
	}
}

// SetPins drives one clock edge through the TAP: a TCK rising edge
// samples TMS/TDI, shifts the selected register in Shift-DR/IR, and
// advances the state machine; a TCK falling edge drives TDO from the
// register's LSB in Shift-DR/IR, loads DR in Capture-DR, and commits
// DR in Update-DR. It returns the current TDO level.
func (d *JtagDriver) SetPins(tck, tms, tdi bool) bool {
	if tck && !d.lastTCK {
		d.risingEdge(tms, tdi)
	} else if !tck && d.lastTCK {
		d.fallingEdge()
	}
	d.lastTCK = tck
	return d.tdo
}

// TDO reports the level currently driven on the TDO pin.
func (d *JtagDriver) TDO() bool { return d.tdo }

func (d *JtagDriver) risingEdge(tms, tdi bool) {
	switch d.state {
	case ShiftDR:
		d.dr.ShiftRight(tdi)
	case ShiftIR:
		d.ir.ShiftRight(tdi)
	}
	d.state = d.state.Next(tms)
	if d.state == TestLogicReset {
		// Reaching reset through TMS reselects IDCODE, same as TRST.
		d.ir.Set(5, RegIDCode)
	}
}

func (d *JtagDriver) fallingEdge() {
	switch d.state {
	case CaptureDR:
		d.captureDR()
	case ShiftDR:
		d.tdo = d.dr.Data()&1 != 0
	case UpdateDR:
		d.updateDR()
	case CaptureIR:
		d.ir.Set(5, 0b00001)
	case ShiftIR:
		d.tdo = d.ir.Data()&1 != 0
	}
}

func (d *JtagDriver) captureDR() {
	switch d.selectedReg() {
	case RegIDCode:
		d.dr.Set(32, uint64(DTMIDCode))
	case RegDtmcs:
		// version=1 (dtmcs), abits, dmistat from the latched DMI status;
		// the idle field is left 0.
		dtmcs := uint32(1) | (uint32(dmiAbits) << 4) | (d.dmiStatus << 10)
		d.dr.Set(32, uint64(dtmcs))
	case RegDmi:
		word := (uint64(d.dmiAddr) << 34) | (uint64(d.dmiData) << 2) | uint64(d.dmiStatus)
		d.dr.Set(dmiDRLen, word)
	default:
		d.dr.Set(1, 0)
	}
}

func (d *JtagDriver) updateDR() {
	switch d.selectedReg() {
	case RegDtmcs:
		val := uint32(d.dr.Data())
		if val&(1<<16) != 0 { // dmireset
			d.dmiStatus = DMISuccess
		}
	case RegDmi:
		if d.dmiStatus != DMISuccess {
			// A failed transaction latches until dtmcs.dmireset.
			return
		}
		word := d.dr.Data()
		op := uint32(word & 0x3)
		data := uint32((word >> 2) & 0xffffffff)
		addr := uint32(word >> 34)
		switch op {
		case DMIRead:
			v, err := d.backend.DMIRead(addr)
			if err != nil {
				d.dmiStatus = DMIFailed
				return
			}
			d.dmiAddr, d.dmiData, d.dmiStatus = addr, v, DMISuccess
		case DMIWrite:
			if err := d.backend.DMIWrite(addr, data); err != nil {
				d.dmiStatus = DMIFailed
				return
			}
			d.dmiAddr, d.dmiData, d.dmiStatus = addr, data, DMISuccess
		}
	}
}
