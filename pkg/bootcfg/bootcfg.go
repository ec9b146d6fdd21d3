// Package bootcfg loads the YAML boot configuration a pandOS machine is
// started from: device counts and geometry, the reserved flash image
// range, and quantum/tick lengths (parsed, not applied by the kernel).
// Grounded on the teacher's
// pattern of a single YAML-tagged struct plus a Load/Validate pair
// (gopkg.in/yaml.v3), rather than flags or environment variables.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the whole boot configuration (spec.md §6 device/geometry
// constants, plus SPEC_FULL.md's supplemented reserved-flash-range
// feature).
type Config struct {
	Disks     []DiskConfig  `yaml:"disks"`
	Flashes   []FlashConfig `yaml:"flashes"`
	Terminals int           `yaml:"terminals"`
	Printers  int           `yaml:"printers"`

	// QuantumMicros and TickMicros are read from the file but nothing
	// applies them: the kernel always uses its kernel.QuantumMicros and
	// kernel.TickMicros constants (spec.md §4.3/§4.4.1).
	QuantumMicros int64 `yaml:"quantum_micros"`
	TickMicros    int64 `yaml:"tick_micros"`

	// Images lists the flash-backed process images to load at boot
	// (SPEC_FULL.md supplemented feature), each occupying blocks
	// [start_block, start_block+blocks) inside its flash's reserved range.
	Images []ImageConfig `yaml:"images"`
}

// DiskConfig describes one disk device's fixed capacity and geometry.
type DiskConfig struct {
	DevNum          int    `yaml:"dev_num"`
	TotalSectors    int    `yaml:"total_sectors"`
	Cylinders       uint32 `yaml:"cylinders"`
	Heads           uint32 `yaml:"heads"`
	SectorsPerTrack uint32 `yaml:"sectors_per_track"`
}

// FlashConfig describes one flash device's fixed capacity and reserved
// image range.
type FlashConfig struct {
	DevNum         int `yaml:"dev_num"`
	TotalBlocks    int `yaml:"total_blocks"`
	ReservedBlocks int `yaml:"reserved_blocks"`
}

// ImageConfig names a process image bundled into a flash device's reserved
// range at boot.
type ImageConfig struct {
	Name      string `yaml:"name"`
	FlashNum  int    `yaml:"flash_num"`
	StartBlock int   `yaml:"start_block"`
	Blocks    int    `yaml:"blocks"`
}

// Default returns a minimal configuration sized for the test machine
// spec.md §6 describes: disks 0 (backing store) and 1, one flash with 32
// reserved blocks, one terminal and one printer.
func Default() *Config {
	return &Config{
		Disks: []DiskConfig{
			{DevNum: 0, TotalSectors: 2048, Cylinders: 16, Heads: 4, SectorsPerTrack: 32},
			{DevNum: 1, TotalSectors: 2048, Cylinders: 16, Heads: 4, SectorsPerTrack: 32},
		},
		Flashes: []FlashConfig{
			{DevNum: 0, TotalBlocks: 256, ReservedBlocks: 32},
		},
		Terminals: 1,
		Printers:  1,
	}
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("bootcfg: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bootcfg: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the structural invariants a boot loader depends on:
// device 0 on a disk line backs the pager (spec.md §6.4) and must exist;
// every image fits inside its flash's reserved range.
func (c *Config) Validate() error {
	haveDisk0 := false
	for _, d := range c.Disks {
		if d.DevNum == 0 {
			haveDisk0 = true
		}
		if d.TotalSectors <= 0 {
			return fmt.Errorf("disk %d: total_sectors must be positive", d.DevNum)
		}
	}
	if !haveDisk0 {
		return fmt.Errorf("disk 0 (the pager's backing store) is not configured")
	}

	flashByNum := make(map[int]FlashConfig, len(c.Flashes))
	for _, f := range c.Flashes {
		if f.ReservedBlocks > f.TotalBlocks {
			return fmt.Errorf("flash %d: reserved_blocks %d exceeds total_blocks %d", f.DevNum, f.ReservedBlocks, f.TotalBlocks)
		}
		flashByNum[f.DevNum] = f
	}
	for _, img := range c.Images {
		f, ok := flashByNum[img.FlashNum]
		if !ok {
			return fmt.Errorf("image %q: no flash device %d configured", img.Name, img.FlashNum)
		}
		if img.StartBlock < 0 || img.StartBlock+img.Blocks > f.ReservedBlocks {
			return fmt.Errorf("image %q: blocks [%d,%d) fall outside flash %d's reserved range [0,%d)", img.Name, img.StartBlock, img.StartBlock+img.Blocks, img.FlashNum, f.ReservedBlocks)
		}
	}
	return nil
}
