package riscv64

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableICache = true
	cfg.MemoryMap = []MemoryMapEntry{{Name: "uart", Base: 0x1000_0000, Size: 0x1000}}

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped Config
	if err := yaml.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if roundTripped.RAMBase != cfg.RAMBase || roundTripped.RAMSize != cfg.RAMSize {
		t.Fatalf("round-tripped config = %+v, want matching RAM fields of %+v", roundTripped, cfg)
	}
	if !roundTripped.EnableICache {
		t.Fatal("round-tripped config lost EnableICache")
	}
	if len(roundTripped.MemoryMap) != 1 || roundTripped.MemoryMap[0].Name != "uart" {
		t.Fatalf("round-tripped memory map = %+v, want one uart entry", roundTripped.MemoryMap)
	}
}

func TestConfigValidateRejectsZeroRAM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RAMSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero ram_size should fail validation")
	}
}

func TestConfigValidateRejectsUnsupportedSatpMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SatpMaxMode = 3 // not bare/sv39/sv48/sv57
	if err := cfg.Validate(); err == nil {
		t.Fatal("unsupported satp_max_mode should fail validation")
	}
}

func TestConfigValidateRejectsDegenerateMemoryMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryMap = []MemoryMapEntry{{Name: "bad", Base: 0xFFFF_FFFF_FFFF_FFFF, Size: 0x10}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("wraparound memory map entry should fail validation")
	}
}
