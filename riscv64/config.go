package riscv64

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MemoryMapEntry describes one MMIO or RAM region a Config wires into a
// Bus at construction time.
type MemoryMapEntry struct {
	Name string `yaml:"name"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// Config is the declarative description of a machine: how much RAM it
// has, where it boots, which SATP modes it accepts, and which optional
// collaborators (caches, debug module) are enabled. It carries no CLI
// parsing of its own; a cmd package is expected to unmarshal one of
// these from a file and pass it in.
type Config struct {
	RAMBase uint64 `yaml:"ram_base"`
	RAMSize uint64 `yaml:"ram_size"`
	BootPC  uint64 `yaml:"boot_pc"`

	SatpMaxMode uint8 `yaml:"satp_max_mode"`

	// DisableC drops the compressed extension from misa; fetch and jump
	// targets then require 4-byte alignment.
	DisableC bool `yaml:"disable_c"`

	EnableICache bool `yaml:"enable_icache"`
	EnableDCache bool `yaml:"enable_dcache"`

	// EnableDebug and DebugAddr are consumed by the embedding
	// application, which constructs the Remote Bitbang stack from the
	// debug package and serves it at DebugAddr (default :23456).
	EnableDebug bool   `yaml:"enable_debug"`
	DebugAddr   string `yaml:"debug_addr"`

	MemoryMap []MemoryMapEntry `yaml:"memory_map"`
}

// DefaultConfig returns a single-hart RV64IMAC machine with 256MiB of
// RAM at the conventional 0x8000_0000 base and Sv57 as the deepest
// translation mode it will accept.
func DefaultConfig() Config {
	return Config{
		RAMBase:     DefaultRAMBase,
		RAMSize:     256 * 1024 * 1024,
		BootPC:      DefaultRAMBase,
		SatpMaxMode: SatpModeSv57,
	}
}

// LoadConfig reads and validates a YAML machine description.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the package cannot act on.
func (c Config) Validate() error {
	if c.RAMSize == 0 {
		return fmt.Errorf("ram_size must be non-zero")
	}
	if !satpModeSupported(c.SatpMaxMode) {
		return fmt.Errorf("satp_max_mode %d is not one of bare/sv39/sv48/sv57", c.SatpMaxMode)
	}
	for _, m := range c.MemoryMap {
		if m.Base+m.Size <= m.Base {
			return fmt.Errorf("memory map entry %q has a degenerate range", m.Name)
		}
	}
	return nil
}

// Marshal serializes the config back to YAML, mirroring LoadConfig's
// use of gopkg.in/yaml.v3 for round-tripping in tests and tooling.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
