package adapters

import (
	"encoding/json"
	"math/big"
	"testing"

	"tokenvendor/services/vendord/config"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = raw
	return nil
}

func localConfig() config.Config {
	cfg := config.Config{Mode: config.ModeLocal}
	config.ApplyDefaults(&cfg)
	cfg.Engine.Reserve = "0x0303030303030303030303030303030303030303"
	cfg.Local.ReserveBase = "1000"
	cfg.Local.ReserveSwap = "5000"
	cfg.Local.Collections = []config.LocalCollection{{
		Address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Holders: []string{"0x0404040404040404040404040404040404040404"},
	}}
	return cfg
}

func TestBuildLocalSeedsReserves(t *testing.T) {
	store := newMemoryStore()
	runtime, err := BuildLocal(store, localConfig())
	if err != nil {
		t.Fatalf("build local: %v", err)
	}
	reserve, _ := config.ParseAddress("0x0303030303030303030303030303030303030303")
	balance, err := runtime.BaseLedger.BalanceOf(reserve)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("base reserve not seeded: %s", balance)
	}
	balance, err = runtime.SwapLedger.BalanceOf(reserve)
	if err != nil {
		t.Fatalf("swap balance: %v", err)
	}
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("swap reserve not seeded: %s", balance)
	}
}

func TestBuildLocalSeedingIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	cfg := localConfig()
	if _, err := BuildLocal(store, cfg); err != nil {
		t.Fatalf("first build: %v", err)
	}
	runtime, err := BuildLocal(store, cfg)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	reserve, _ := config.ParseAddress(cfg.Engine.Reserve)
	balance, err := runtime.BaseLedger.BalanceOf(reserve)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("restart minted extra funds: %s", balance)
	}
}

func TestStaticRegistry(t *testing.T) {
	runtime, err := BuildLocal(newMemoryStore(), localConfig())
	if err != nil {
		t.Fatalf("build local: %v", err)
	}
	collection, _ := config.ParseAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	holder, _ := config.ParseAddress("0x0404040404040404040404040404040404040404")
	stranger := [20]byte{0x99}

	ok, err := runtime.Registry.HasValidCredential(collection, holder)
	if err != nil || !ok {
		t.Fatalf("holder not recognised: ok=%v err=%v", ok, err)
	}
	ok, err = runtime.Registry.HasValidCredential(collection, stranger)
	if err != nil || ok {
		t.Fatalf("stranger recognised: ok=%v err=%v", ok, err)
	}

	runtime.Registry.Grant(collection, stranger)
	if ok, _ := runtime.Registry.HasValidCredential(collection, stranger); !ok {
		t.Fatal("grant not applied")
	}
	runtime.Registry.Revoke(collection, stranger)
	if ok, _ := runtime.Registry.HasValidCredential(collection, stranger); ok {
		t.Fatal("revoke not applied")
	}
}
