package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "bundle")
	p := write(t, "c.yaml", "name: ${SAMPLE_NAME}\nport: 8080\n")
	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "bundle" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_JSON(t *testing.T) {
	p := write(t, "c.json", `{"name": "j", "port": 9}`)
	var s sample
	if err := Load(p, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "j" || s.Port != 9 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	p := write(t, "c.yaml", "name: x\nprot: 1\n")
	var s sample
	if err := Load(p, &s); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_ValidationFails(t *testing.T) {
	p := write(t, "c.yaml", "name: x\nport: 0\n")
	var s sample
	err := Load(p, &s)
	if err == nil || !strings.Contains(err.Error(), "port must be positive") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadOptional_MissingKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("defaults overwritten: %+v", s)
	}
}

func TestLoadWithDefaults_FallsBack(t *testing.T) {
	def := write(t, "default.yaml", "name: fallback\nport: 2\n")
	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if s.Name != "fallback" {
		t.Errorf("got %+v", s)
	}
}
