package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("listen address: %q", cfg.ListenAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// Second load reads the file that was just written.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %q vs %q", again.DataDir, cfg.DataDir)
	}
}

func TestLoadParsesBootstrap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `ListenAddress = ":9090"
DataDir = "/tmp/superswap"

[Bootstrap]
Admin = "0101010101010101010101010101010101010101010101010101010101010101"
Collector = "0202020202020202020202020202020202020202020202020202020202020202"
FeeRecipient = "0404040404040404040404040404040404040404040404040404040404040404"
SourceAsset = "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"
RoutingProgram = "0505050505050505050505050505050505050505050505050505050505050505"
FeeBps = 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	admin, params, ok, err := cfg.BootstrapParams()
	if err != nil {
		t.Fatalf("bootstrap params: %v", err)
	}
	if !ok {
		t.Fatal("expected bootstrap to be configured")
	}
	if params.FeeBps != 30 {
		t.Fatalf("fee bps: %d", params.FeeBps)
	}
	if admin[0] != 0x01 || params.SourceAsset[0] != 0xA1 || params.RoutingAuthority[0] != 0x05 {
		t.Fatal("identities not parsed")
	}
}

func TestLoadRejectsExcessiveFee(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `ListenAddress = ":9090"
DataDir = "/tmp/superswap"

[Bootstrap]
FeeBps = 2000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected fee validation error")
	}
}

func TestLoadAPIKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	content := `keys:
  - key: collector-1
    secret: topsecret
    identity: "0202020202020202020202020202020202020202020202020202020202020202"
  - key: ops-1
    secret: other
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	keys, err := LoadAPIKeys(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	secrets := keys.Secrets()
	if secrets["collector-1"] != "topsecret" || secrets["ops-1"] != "other" {
		t.Fatalf("unexpected secrets: %v", secrets)
	}
	identities := keys.Identities()
	if id, ok := identities["collector-1"]; !ok || id[0] != 0x02 {
		t.Fatalf("collector identity not parsed: %v", identities)
	}
	if _, ok := identities["ops-1"]; ok {
		t.Fatal("ops key should have no identity")
	}
}

func TestLoadAPIKeysRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	content := `keys:
  - key: collector-1
    secret: a
  - key: collector-1
    secret: b
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadAPIKeys(path); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
