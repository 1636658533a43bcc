// Package config loads the kernel's boot manifest: the memory layout and
// the set of embedded program images to create tasks from, expressed as
// YAML the way the teacher's own machine descriptions are.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/amkernel/internal/boot"
)

// Program is one embedded program image, given either inline (base64) or
// by path relative to the manifest file's directory.
type Program struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path,omitempty"`
	Base64 string `yaml:"base64,omitempty"`
}

// Manifest is the on-disk YAML shape.
type Manifest struct {
	KernelRAMStart uint32    `yaml:"kernel_ram_start"`
	KernelRAMEnd   uint32    `yaml:"kernel_ram_end"`
	L2PhysBase     uint32    `yaml:"l2_phys_base"`
	PhysMemSize    int       `yaml:"phys_mem_size"`
	Programs       []Program `yaml:"programs"`
}

// Load reads and parses a manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &m, nil
}

// Resolve turns the manifest into a boot.Config, reading any path-
// referenced program images relative to dir.
func (m *Manifest) Resolve(dir string) (boot.Config, error) {
	cfg := boot.Config{
		KernelRAMStart: m.KernelRAMStart,
		KernelRAMEnd:   m.KernelRAMEnd,
		L2PhysBase:     m.L2PhysBase,
		PhysMemSize:    m.PhysMemSize,
	}

	for _, p := range m.Programs {
		switch {
		case p.Base64 != "":
			data, err := base64.StdEncoding.DecodeString(p.Base64)
			if err != nil {
				return cfg, fmt.Errorf("config: decode program %q: %w", p.Name, err)
			}
			cfg.Programs = append(cfg.Programs, data)
		case p.Path != "":
			data, err := os.ReadFile(filepath.Join(dir, p.Path))
			if err != nil {
				return cfg, fmt.Errorf("config: read program %q: %w", p.Name, err)
			}
			cfg.Programs = append(cfg.Programs, data)
		default:
			return cfg, fmt.Errorf("config: program %q has neither path nor base64", p.Name)
		}
	}

	return cfg, nil
}
