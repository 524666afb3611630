package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalConfig = `
listen: ":9000"
database: "vendord.db"
mode: local
admin:
  bearer_token: secret
engine:
  owner: "0x0101010101010101010101010101010101010101"
  dev_address: "0x0202020202020202020202020202020202020202"
  reserve: "0x0303030303030303030303030303030303030303"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("listen not honoured: %s", cfg.ListenAddress)
	}
	if cfg.RateLimit.RequestsPerMinute != 600 || cfg.RateLimit.Burst != 30 {
		t.Fatalf("rate limit not defaulted: %+v", cfg.RateLimit)
	}
	if cfg.Events.Retain != 10_000 {
		t.Fatalf("event retention not defaulted: %d", cfg.Events.Retain)
	}
	if cfg.Log.MaxSizeMB != 100 {
		t.Fatalf("log size not defaulted: %d", cfg.Log.MaxSizeMB)
	}
}

func TestValidateRejectsMissingAuth(t *testing.T) {
	cfg := Config{Mode: ModeLocal}
	ApplyDefaults(&cfg)
	cfg.Engine.Owner = "0x0101010101010101010101010101010101010101"
	cfg.Engine.DevAddress = "0x0202020202020202020202020202020202020202"
	cfg.Engine.Reserve = "0x0303030303030303030303030303030303030303"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error without admin auth")
	}
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := Config{Mode: ModeLocal}
	ApplyDefaults(&cfg)
	cfg.Admin.BearerToken = "secret"
	cfg.Engine.Owner = "not-an-address"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed owner")
	}
}

func TestValidateEVMRequirements(t *testing.T) {
	cfg := Config{Mode: ModeEVM}
	ApplyDefaults(&cfg)
	cfg.Admin.BearerToken = "secret"
	cfg.Engine.Owner = "0x0101010101010101010101010101010101010101"
	cfg.Engine.DevAddress = "0x0202020202020202020202020202020202020202"
	cfg.Engine.Reserve = "0x0303030303030303030303030303030303030303"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error without rpc_url")
	}
	cfg.EVM.RPCURL = "http://localhost:8545"
	cfg.EVM.BaseToken = "0x0404040404040404040404040404040404040404"
	cfg.EVM.SwapToken = "0x0505050505050505050505050505050505050505"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error without key_file")
	}
	cfg.EVM.KeyFile = "key.json"
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadParamsFromTOML(t *testing.T) {
	path := writeFile(t, "params.toml", `
InitialExchangeRate = 7
BuyFeeBps = 50

[Base]
MaxSellBps = 150
`)
	params, err := LoadParams(path)
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if params.InitialExchangeRate != 7 {
		t.Fatalf("rate not read: %d", params.InitialExchangeRate)
	}
	if params.BuyFeeBps != 50 {
		t.Fatalf("buy fee not read: %d", params.BuyFeeBps)
	}
	if params.Base.MaxSellBps != 150 {
		t.Fatalf("tier override not read: %d", params.Base.MaxSellBps)
	}
	// Untouched fields keep their defaults.
	if params.SellFeeBps != 200 {
		t.Fatalf("sell fee not defaulted: %d", params.SellFeeBps)
	}
}

func TestLoadParamsEmptyPathUsesDefaults(t *testing.T) {
	params, err := LoadParams("")
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if params.InitialExchangeRate == 0 {
		t.Fatal("defaults not applied")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x0101010101010101010101010101010101010101")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr[0] != 0x01 {
		t.Fatalf("unexpected decode: %x", addr)
	}
	if _, err := ParseAddress("0x01"); err == nil {
		t.Fatal("expected length error")
	}
	if _, err := ParseAddress("zz"); err == nil {
		t.Fatal("expected hex error")
	}
}
