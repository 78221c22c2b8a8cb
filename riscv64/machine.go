package riscv64

import (
	"context"
	"log/slog"
	"sync"
)

// Machine wires one hart to a bus hosting CLINT and PLIC, plus the
// optional I/D caches a Config enables.
type Machine struct {
	Config Config
	CPU    *CPU
	Bus    *Bus
	CLINT  *CLINT
	PLIC   *PLIC

	log *slog.Logger

	// mu serializes Step against out-of-band state access (the debug
	// module's halt/resume and register pokes arrive from the Remote
	// Bitbang goroutine).
	mu sync.Mutex

	instretSinceTick uint64
}

// tickBatch is how many steps (retired, trapped or idle in WFI) accumulate before the
// CLINT/PLIC tick fires; batching keeps the hot loop from paying a
// device-update cost on every single instruction.
const tickBatch = 64

// NewMachine builds a single-hart machine from cfg.
func NewMachine(cfg Config) *Machine {
	bus := NewBus(cfg.RAMBase, cfg.RAMSize)
	cpu := NewCPU(bus, cfg.BootPC, cfg.SatpMaxMode)
	if cfg.DisableC {
		cpu.DisableCompressed()
	}

	clint := NewCLINT(cpu)
	bus.AddDevice(CLINTBase, CLINTSize, clint)
	cpu.TimeFn = func() uint64 { return clint.mtime }

	plic := NewPLIC(cpu)
	bus.AddDevice(PLICBase, PLICSize, plic)

	for _, m := range cfg.MemoryMap {
		bus.AddDevice(m.Base, m.Size, NewMemoryRegion(m.Size))
	}

	if cfg.EnableICache {
		cpu.ICache = NewICache(bus, cfg.RAMBase, cfg.RAMSize)
	}
	if cfg.EnableDCache {
		cpu.DCache = NewDCache(bus, cfg.RAMBase, cfg.RAMSize)
	}

	return &Machine{
		Config: cfg,
		CPU:    cpu,
		Bus:    bus,
		CLINT:  clint,
		PLIC:   plic,
		log:    slog.Default().With("component", "riscv64.machine"),
	}
}

// Step fetches, decodes and executes one instruction (compressed or
// standard), then evaluates pending interrupts. Interrupts are checked
// after execution rather than before fetch, so a trap taken this step
// reflects state the just-retired instruction produced, and xepc
// receives the next PC.
func (m *Machine) Step() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cpu := m.CPU

	if cpu.Halted() {
		return nil
	}

	if cpu.WFI {
		if ok, cause := cpu.CheckInterrupt(); ok {
			cpu.WFI = false
			cpu.HandleTrap(cause, 0)
		} else if cpu.Mip&cpu.Mie != 0 {
			// An interrupt is pending but globally disabled: WFI falls
			// through and execution continues past it.
			cpu.WFI = false
		} else {
			m.tick(1)
			return nil
		}
	}

	cpu.Cycle++

	insn, size, err := m.fetch(cpu.PC)
	if err != nil {
		m.deliverTrap(err)
		m.tick(1)
		return nil
	}

	if err := cpu.ExecuteSized(insn, size); err != nil {
		// The faulting instruction does not retire: no instret bump.
		m.deliverTrap(err)
		m.tick(1)
		return nil
	}

	cpu.Instret++

	if ok, cause := cpu.CheckInterrupt(); ok {
		cpu.HandleTrap(cause, 0)
	}

	if cpu.SingleStepPending() {
		cpu.HaltAfterStep()
	}

	m.tick(1)
	return nil
}

// StateLocker exposes the mutex guarding hart and device state, so a
// debug.Hart wrapper can serialize DMI-driven pokes against Step.
func (m *Machine) StateLocker() sync.Locker { return &m.mu }

// fetch reads one instruction at pc, expanding a 16-bit encoding
// through ExpandCompressed, and reports the encoding's width in bytes.
func (m *Machine) fetch(pc uint64) (uint32, uint64, error) {
	cpu := m.CPU

	if cpu.Misa&MisaC == 0 && pc&0x3 != 0 {
		return 0, 0, Exception(CauseInsnAddrMisaligned, pc)
	}

	paddr, err := cpu.MMU.TranslateFetch(pc)
	if err != nil {
		return 0, 0, err
	}

	var lo uint16
	if cpu.ICache != nil {
		word, err := cpu.ICache.FetchWord(paddr &^ 0x3)
		if err != nil {
			return 0, 0, Exception(CauseInsnAccessFault, pc)
		}
		if paddr&0x2 != 0 {
			lo = uint16(word >> 16)
		} else {
			lo = uint16(word)
		}
	} else {
		v, err := cpu.Bus.Read16(paddr)
		if err != nil {
			return 0, 0, Exception(CauseInsnAccessFault, pc)
		}
		lo = v
	}

	if isCompressed(lo) {
		insn, err := ExpandCompressed(lo)
		if err != nil {
			return 0, 0, err
		}
		return insn, 2, nil
	}

	hiPaddr, err := cpu.MMU.TranslateFetch(pc + 2)
	if err != nil {
		return 0, 0, err
	}
	hi, err := cpu.Bus.Read16(hiPaddr)
	if err != nil {
		return 0, 0, Exception(CauseInsnAccessFault, pc)
	}
	return uint32(lo) | uint32(hi)<<16, 4, nil
}

func (m *Machine) deliverTrap(err error) {
	te, ok := err.(*TrapError)
	if !ok {
		m.log.Error("non-trap error from execution, halting", "err", err)
		m.CPU.WFI = true
		return
	}
	m.CPU.HandleTrap(te.Cause, te.Tval)
}

func (m *Machine) tick(instructions uint64) {
	m.instretSinceTick += instructions
	if m.instretSinceTick < tickBatch {
		return
	}
	delta := m.instretSinceTick
	m.instretSinceTick = 0
	m.Bus.Tick(delta)
}

// Run steps the machine until ctx is cancelled, yielding control back
// to the caller every yieldAfter instructions (0 disables yielding).
func (m *Machine) Run(ctx context.Context, yieldAfter uint64) error {
	var count uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.Step(); err != nil {
			return err
		}
		count++
		if yieldAfter != 0 && count >= yieldAfter {
			return nil
		}
	}
}
