package riscv64

import (
	"fmt"
)

// Device is the MMIO contract every bus-attached component implements.
// This is the "DeviceBase" surface out-of-scope collaborators (UART, RTC,
// framebuffer, keyboard/mouse) are expected to expose; the core only ever
// calls through it.
type Device interface {
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, size int, value uint64) error
}

// Ticker is implemented by devices that advance with wall/instruction time
// (CLINT, PLIC). The bus calls Update once per outer tick.
type Ticker interface {
	Update(delta uint64)
}

// Named devices report a name for diagnostics; optional.
type Named interface {
	Name() string
}

// MemoryRegion is a contiguous span of byte-addressable RAM.
type MemoryRegion struct {
	Data []byte
}

// NewMemoryRegion allocates a zeroed RAM region of the given size.
func NewMemoryRegion(size uint64) *MemoryRegion {
	return &MemoryRegion{Data: make([]byte, size)}
}

func (m *MemoryRegion) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("memory read out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(cpuEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(cpuEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return cpuEndian.Uint64(m.Data[offset:]), nil
	default:
		return 0, fmt.Errorf("invalid read size: %d", size)
	}
}

func (m *MemoryRegion) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("memory write out of bounds: offset=0x%x size=%d len=%d", offset, size, len(m.Data))
	}
	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		cpuEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		cpuEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		cpuEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

func (m *MemoryRegion) Size() uint64 { return uint64(len(m.Data)) }

// Slice exposes a sub-range for cache line fills/writebacks.
func (m *MemoryRegion) Slice(offset, length uint64) []byte {
	if offset+length > uint64(len(m.Data)) {
		return nil
	}
	return m.Data[offset : offset+length]
}

// DeviceMapping attaches a Device to an address range.
type DeviceMapping struct {
	Base   uint64
	Size   uint64
	Device Device
}

// BusInterface is what the CPU/MMU/caches see; it lets execute.go and
// atomic.go stay agnostic of the concrete Bus.
type BusInterface interface {
	Read(addr uint64, size int) (uint64, error)
	Write(addr uint64, size int, value uint64) error
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, value uint8) error
	Write16(addr uint64, value uint16) error
	Write32(addr uint64, value uint32) error
	Write64(addr uint64, value uint64) error
}

// Bus routes addresses to RAM or an attached device list. Only CLINT and
// PLIC are fixed (registered at construction by Machine); everything else
// is configurable.
type Bus struct {
	RAM     *MemoryRegion
	RAMBase uint64
	Devices []DeviceMapping
}

// NewBus creates a bus with ramSize bytes of RAM based at ramBase.
func NewBus(ramBase, ramSize uint64) *Bus {
	return &Bus{RAM: NewMemoryRegion(ramSize), RAMBase: ramBase}
}

// AddDevice maps dev at [base, base+size).
func (bus *Bus) AddDevice(base, size uint64, dev Device) {
	bus.Devices = append(bus.Devices, DeviceMapping{Base: base, Size: size, Device: dev})
}

// Tick advances every Ticker-implementing device by delta units (spec
// §4.9: "each outer tick advances CLINT mtime... and ticks PLIC sampling").
func (bus *Bus) Tick(delta uint64) {
	for _, m := range bus.Devices {
		if t, ok := m.Device.(Ticker); ok {
			t.Update(delta)
		}
	}
}

func (bus *Bus) findDevice(addr uint64) (Device, uint64, error) {
	if addr >= bus.RAMBase && addr < bus.RAMBase+bus.RAM.Size() {
		return bus.RAM, addr - bus.RAMBase, nil
	}
	for _, mapping := range bus.Devices {
		if addr >= mapping.Base && addr < mapping.Base+mapping.Size {
			return mapping.Device, addr - mapping.Base, nil
		}
	}
	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

// checkAlign enforces the hard natural-alignment invariant: addr % size
// must be zero, or the bus fails the access without touching any device
// state (spec §4.9, tested by §8's alignment property).
func checkAlign(addr uint64, size int) error {
	if addr%uint64(size) != 0 {
		return fmt.Errorf("misaligned bus access: addr=0x%x size=%d", addr, size)
	}
	return nil
}

func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	if err := checkAlign(addr, size); err != nil {
		return 0, err
	}
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	if err := checkAlign(addr, size); err != nil {
		return err
	}
	dev, offset, err := bus.findDevice(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

func (bus *Bus) Read8(addr uint64) (uint8, error) {
	v, err := bus.Read(addr, 1)
	return uint8(v), err
}
func (bus *Bus) Read16(addr uint64) (uint16, error) {
	v, err := bus.Read(addr, 2)
	return uint16(v), err
}
func (bus *Bus) Read32(addr uint64) (uint32, error) {
	v, err := bus.Read(addr, 4)
	return uint32(v), err
}
func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.Read(addr, 8)
}
func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}
func (bus *Bus) Write16(addr uint64, value uint16) error {
	return bus.Write(addr, 2, uint64(value))
}
func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}
func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.Write(addr, 8, value)
}

// LoadBytes copies data into physical memory at addr, used by boot-image
// collaborators (ELF/raw loading is explicitly out of scope; this helper
// is the minimal primitive they need).
func (bus *Bus) LoadBytes(addr uint64, data []byte) error {
	if addr >= bus.RAMBase && addr+uint64(len(data)) <= bus.RAMBase+bus.RAM.Size() {
		copy(bus.RAM.Data[addr-bus.RAMBase:], data)
		return nil
	}
	for i, b := range data {
		if err := bus.Write8(addr+uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// Fetch reads an instruction word, fetching only 2 bytes when the low
// half already decodes as a compressed instruction (spec §4.2 fetch
// alignment).
func (bus *Bus) Fetch(addr uint64) (uint32, error) {
	lo, err := bus.Read16(addr)
	if err != nil {
		return 0, err
	}
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}
	hi, err := bus.Read16(addr + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | (uint32(hi) << 16), nil
}

var _ Device = (*MemoryRegion)(nil)
var _ BusInterface = (*Bus)(nil)
