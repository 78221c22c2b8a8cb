package debug

import "fmt"

// DMI register addresses (external debug spec v0.13, table 3.1).
const (
	addrAbstractData0 = 0x04
	addrDMControl     = 0x10
	addrDMStatus      = 0x11
	addrHartInfo      = 0x12
	addrAbstractcs    = 0x16
	addrCommand       = 0x17
	addrAbstractAuto  = 0x18
	addrProgBuf0      = 0x20
)

// cmderr codes (Abstractcs[10:8]).
const (
	CmdErrNone       = 0
	CmdErrBusy       = 1
	CmdErrNotSup     = 2
	CmdErrException  = 3
	CmdErrHaltResume = 4
	CmdErrBus        = 5
	CmdErrOther      = 7
)

const dmVersion013 = 2

// Version identifies the external debug spec revision this DMI register
// layout implements; compared with golang.org/x/mod/semver in tests to
// guard against an accidental downgrade of the register map.
const Version = "v0.13.2"

// Config mirrors the fixed resource counts the external Debug Module
// advertises through abstractcs/hartinfo.
type Config struct {
	ProgBufCount     int
	AbstractDataCount int
}

func DefaultConfig() Config {
	return Config{ProgBufCount: 16, AbstractDataCount: 6}
}

// Hart is the contract a Debug Module drives; riscv64.CPU implements it.
type Hart interface {
	HaltRequest(cause uint8)
	Resume()
	Halted() bool
	Running() bool
	HaveReset() bool
	ClearHaveReset()
	SetResetRequest()
	ReadGPR(n uint32) uint64
	WriteGPR(n uint32, v uint64)
	ReadCSR(addr uint16) (uint64, error)
	WriteCSR(addr uint16, v uint64) error
	ReadMemory(addr uint64, size int) (uint64, error)
	WriteMemory(addr uint64, size int, v uint64) error
}

// Halt request causes passed to Hart.HaltRequest, matching dcsr.cause.
const (
	HaltCauseHaltReq = 3
)

// DebugModule implements the DMI register space: DMCONTROL/DMSTATUS/
// HARTINFO/ABSTRACTCS/COMMAND/PROGBUF/ABSTRACT_DATA, and abstract
// command execution (Access Register, Access Memory; Quick Access is
// not supported).
type DebugModule struct {
	cfg  Config
	hart Hart

	dmactive bool
	ndmreset bool
	hartsel  uint32

	cmderr uint32
	busy   bool

	abstractData []uint32
	progBuf      []uint32

	resumeAck bool
}

func NewDebugModule(cfg Config, hart Hart) *DebugModule {
	return &DebugModule{
		cfg:          cfg,
		hart:         hart,
		abstractData: make([]uint32, cfg.AbstractDataCount),
		progBuf:      make([]uint32, cfg.ProgBufCount),
	}
}

var _ DMIBackend = (*DebugModule)(nil)

func (d *DebugModule) DMIRead(addr uint32) (uint32, error) {
	switch {
	case addr >= addrAbstractData0 && addr < addrAbstractData0+uint32(len(d.abstractData)):
		return d.abstractData[addr-addrAbstractData0], nil
	case addr == addrDMControl:
		return d.readDMControl(), nil
	case addr == addrDMStatus:
		return d.readDMStatus(), nil
	case addr == addrHartInfo:
		return d.readHartInfo(), nil
	case addr == addrAbstractcs:
		return d.readAbstractcs(), nil
	case addr == addrCommand:
		return 0, nil // write-only in practice; reads as 0
	case addr == addrAbstractAuto:
		return 0, nil
	case addr >= addrProgBuf0 && addr < addrProgBuf0+uint32(len(d.progBuf)):
		return d.progBuf[addr-addrProgBuf0], nil
	default:
		return 0, nil
	}
}

func (d *DebugModule) DMIWrite(addr uint32, value uint32) error {
	switch {
	case addr >= addrAbstractData0 && addr < addrAbstractData0+uint32(len(d.abstractData)):
		if d.busy {
			d.cmderr = CmdErrBusy
			return nil
		}
		d.abstractData[addr-addrAbstractData0] = value
	case addr == addrDMControl:
		d.writeDMControl(value)
	case addr == addrAbstractcs:
		// Each cmderr bit written as 1 is cleared (write-1-to-clear).
		d.cmderr &^= (value >> 8) & 0x7
	case addr == addrCommand:
		if d.busy {
			d.cmderr = CmdErrBusy
			return nil
		}
		if d.cmderr != CmdErrNone {
			return nil
		}
		d.performAbstractCommand(value)
	case addr >= addrProgBuf0 && addr < addrProgBuf0+uint32(len(d.progBuf)):
		d.progBuf[addr-addrProgBuf0] = value
	}
	return nil
}

func (d *DebugModule) readDMControl() uint32 {
	var v uint32
	if d.dmactive {
		v |= 1
	}
	if d.ndmreset {
		v |= 1 << 1
	}
	v |= d.hartsel << 16
	return v
}

func (d *DebugModule) writeDMControl(value uint32) {
	d.dmactive = value&1 != 0
	if !d.dmactive {
		return
	}
	d.ndmreset = value&(1<<1) != 0
	d.hartsel = (value >> 16) & 0x3ff

	if value&(1<<31) != 0 { // haltreq
		d.hart.HaltRequest(HaltCauseHaltReq)
	}
	if value&(1<<30) != 0 { // resumereq
		if d.hart.Halted() {
			d.hart.Resume()
			d.resumeAck = true
		}
	} else {
		d.resumeAck = false
	}
	if value&(1<<28) != 0 { // ackhavereset
		d.hart.ClearHaveReset()
	}
	if value&(1<<1) != 0 && value&(1<<0) != 0 { // ndmreset while active
		d.hart.SetResetRequest()
	}
}

func (d *DebugModule) readDMStatus() uint32 {
	halted := d.hart.Halted()
	running := d.hart.Running()
	haveReset := d.hart.HaveReset()

	v := uint32(dmVersion013)
	v |= 1 << 7 // authenticated: single hart, no auth plugin to fail
	if halted {
		v |= 1 << 8  // anyhalted
		v |= 1 << 9  // allhalted (single hart: any == all)
	}
	if running {
		v |= 1 << 10 // anyrunning
		v |= 1 << 11 // allrunning
	}
	if d.resumeAck {
		v |= 1 << 16 // anyresumeack
		v |= 1 << 17 // allresumeack
	}
	if haveReset {
		v |= 1 << 18 // anyhavereset
		v |= 1 << 19 // allhavereset
	}
	return v
}

func (d *DebugModule) readHartInfo() uint32 {
	return uint32(d.cfg.AbstractDataCount) << 12
}

func (d *DebugModule) readAbstractcs() uint32 {
	v := uint32(d.cfg.AbstractDataCount) & 0xf
	v |= uint32(d.cfg.ProgBufCount&0x1f) << 24
	v |= (d.cmderr & 0x7) << 8
	if d.busy {
		v |= 1 << 12
	}
	return v
}

// Abstract command encoding (Command register).
const (
	cmdTypeAccessRegister = 0
	cmdTypeQuickAccess    = 1
	cmdTypeAccessMemory   = 2
)

func (d *DebugModule) performAbstractCommand(command uint32) {
	if !d.hart.Halted() {
		d.cmderr = CmdErrHaltResume
		return
	}
	cmdtype := command >> 24
	control := command & 0xffffff

	d.busy = true
	switch cmdtype {
	case cmdTypeAccessRegister:
		d.accessRegister(control)
	case cmdTypeAccessMemory:
		d.accessMemory(control)
	default:
		d.cmderr = CmdErrNotSup
	}
	d.busy = false
}

func (d *DebugModule) accessRegister(control uint32) {
	aarsize := (control >> 20) & 0x7
	postexec := control&(1<<18) != 0
	transfer := control&(1<<17) != 0
	write := control&(1<<16) != 0
	regno := control & 0xffff

	if postexec {
		// Program-buffer execution is not wired into the hart's fetch
		// path; treat the request as unsupported rather than silently
		// skip it.
		d.cmderr = CmdErrNotSup
		return
	}
	if aarsize != 2 && aarsize != 3 {
		d.cmderr = CmdErrNotSup
		return
	}
	if !transfer {
		return
	}

	switch {
	case regno >= 0x1000 && regno <= 0x101f:
		gpr := uint32(regno - 0x1000)
		if write {
			d.hart.WriteGPR(gpr, d.argValue(aarsize))
		} else {
			d.setArgValue(aarsize, d.hart.ReadGPR(gpr))
		}
	case regno <= 0x0fff:
		csr := uint16(regno)
		if write {
			if err := d.hart.WriteCSR(csr, d.argValue(aarsize)); err != nil {
				d.cmderr = CmdErrException
				return
			}
		} else {
			v, err := d.hart.ReadCSR(csr)
			if err != nil {
				d.cmderr = CmdErrException
				return
			}
			d.setArgValue(aarsize, v)
		}
	default:
		d.cmderr = CmdErrNotSup
	}
}

func (d *DebugModule) accessMemory(control uint32) {
	aamsize := (control >> 20) & 0x7
	aamvirtual := control&(1<<23) != 0
	write := control&(1<<16) != 0

	if aamvirtual {
		d.cmderr = CmdErrNotSup
		return
	}
	size, ok := memSize(aamsize)
	if !ok {
		d.cmderr = CmdErrNotSup
		return
	}

	// Argument 1 (data2/data3) is the physical address; argument 0
	// (data0/data1) is the data.
	if len(d.abstractData) < 4 {
		d.cmderr = CmdErrOther
		return
	}
	addr := uint64(d.abstractData[3])<<32 | uint64(d.abstractData[2])

	if write {
		v := uint64(d.abstractData[0])
		if size == 8 {
			v |= uint64(d.abstractData[1]) << 32
		}
		if err := d.hart.WriteMemory(addr, size, v); err != nil {
			d.cmderr = CmdErrBus
			return
		}
	} else {
		v, err := d.hart.ReadMemory(addr, size)
		if err != nil {
			d.cmderr = CmdErrBus
			return
		}
		d.abstractData[0] = uint32(v)
		if size == 8 {
			d.abstractData[1] = uint32(v >> 32)
		}
	}
}

func memSize(aamsize uint32) (int, bool) {
	switch aamsize {
	case 0:
		return 1, true
	case 1:
		return 2, true
	case 2:
		return 4, true
	case 3:
		return 8, true
	default:
		return 0, false
	}
}

func (d *DebugModule) argValue(aarsize uint32) uint64 {
	if aarsize == 3 && len(d.abstractData) >= 2 {
		return uint64(d.abstractData[0]) | uint64(d.abstractData[1])<<32
	}
	return uint64(d.abstractData[0])
}

func (d *DebugModule) setArgValue(aarsize uint32, v uint64) {
	d.abstractData[0] = uint32(v)
	if aarsize == 3 && len(d.abstractData) >= 2 {
		d.abstractData[1] = uint32(v >> 32)
	}
}

func (d *DebugModule) String() string {
	return fmt.Sprintf("dm{hartsel=%d cmderr=%d busy=%v}", d.hartsel, d.cmderr, d.busy)
}
