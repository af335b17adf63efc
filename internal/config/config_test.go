package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasEveryModuleDisabled(t *testing.T) {
	cfg := Default()
	if cfg.Stratum.Enabled || cfg.BTCP2P.Enabled || cfg.Exchange.Enabled {
		t.Fatalf("expected every module disabled by default, got %+v", cfg)
	}
	if cfg.Mempool.CapBytes <= 0 {
		t.Fatalf("expected a positive default mempool cap, got %d", cfg.Mempool.CapBytes)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stratum.Enabled {
		t.Fatalf("expected defaults for a missing config file, got %+v", cfg)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg.LogLevel != want.LogLevel || cfg.Stratum != want.Stratum || cfg.Mempool != want.Mempool {
		t.Fatalf("expected Default() for an empty path, got %+v", cfg)
	}
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yamlContent := `
log_level: debug
stratum:
  enabled: true
  pool_address: pool.example.com:3333
  worker: rig1
mempool:
  cap_bytes: 1048576
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Stratum.Enabled || cfg.Stratum.PoolAddress != "pool.example.com:3333" {
		t.Fatalf("stratum section not overlaid: %+v", cfg.Stratum)
	}
	if cfg.Stratum.UserAgent != Default().Stratum.UserAgent {
		t.Fatalf("expected untouched fields to retain defaults, got %q", cfg.Stratum.UserAgent)
	}
	if cfg.Mempool.CapBytes != 1048576 {
		t.Fatalf("mempool.cap_bytes not overlaid: %d", cfg.Mempool.CapBytes)
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error reading a directory as a config file")
	}
}

func TestValidateRequiresAtLeastOneModule(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when no module is enabled")
	}
}

func TestValidateRequiresPoolAddressWhenStratumEnabled(t *testing.T) {
	cfg := Default()
	cfg.Stratum.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for stratum enabled without a pool_address")
	}
	cfg.Stratum.PoolAddress = "pool.example.com:3333"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRequiresPeerAddressWhenBTCP2PEnabled(t *testing.T) {
	cfg := Default()
	cfg.BTCP2P.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for btcp2p enabled without a peer_address")
	}
	cfg.BTCP2P.PeerAddress = "127.0.0.1:8333"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRequiresHostAndPathWhenExchangeEnabled(t *testing.T) {
	cfg := Default()
	cfg.Exchange.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for exchange enabled without host/path")
	}
	cfg.Exchange.Host = "exchange.example.com:443"
	cfg.Exchange.Path = "/ws"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidateRejectsNonPositiveMempoolCap(t *testing.T) {
	cfg := Default()
	cfg.Stratum.Enabled = true
	cfg.Stratum.PoolAddress = "pool.example.com:3333"
	cfg.Mempool.CapBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a non-positive mempool cap")
	}
}
