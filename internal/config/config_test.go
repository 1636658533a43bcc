package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadAndResolveInlineBase64Program(t *testing.T) {
	dir := t.TempDir()
	program := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	body := `
kernel_ram_start: 0x80000000
kernel_ram_end: 0x80100000
l2_phys_base: 0x90000000
phys_mem_size: 1048576
programs:
  - name: p1
    base64: ` + base64.StdEncoding.EncodeToString(program) + "\n"
	path := writeManifest(t, dir, body)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := m.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.KernelRAMStart != 0x8000_0000 || cfg.KernelRAMEnd != 0x8010_0000 {
		t.Fatalf("unexpected RAM window: 0x%x-0x%x", cfg.KernelRAMStart, cfg.KernelRAMEnd)
	}
	if len(cfg.Programs) != 1 {
		t.Fatalf("Programs = %d, want 1", len(cfg.Programs))
	}
	if string(cfg.Programs[0]) != string(program) {
		t.Fatalf("decoded program = %x, want %x", cfg.Programs[0], program)
	}
}

func TestResolveReadsPathReferencedProgram(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p1.bin"), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write program file: %v", err)
	}
	m := &Manifest{
		PhysMemSize: 4096,
		Programs:    []Program{{Name: "p1", Path: "p1.bin"}},
	}
	cfg, err := m.Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cfg.Programs) != 1 || string(cfg.Programs[0]) != "\x01\x02\x03" {
		t.Fatalf("unexpected program contents: %v", cfg.Programs)
	}
}

func TestResolveRejectsProgramWithNeitherPathNorBase64(t *testing.T) {
	m := &Manifest{Programs: []Program{{Name: "bad"}}}
	if _, err := m.Resolve("."); err == nil {
		t.Fatalf("expected error for a program with neither path nor base64")
	}
}
