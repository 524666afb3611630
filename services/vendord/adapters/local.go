// Package adapters wires the vendor engine to concrete ledgers and
// credential registries: in-process bank ledgers for local mode and ERC-20
// contracts over JSON-RPC for evm mode.
package adapters

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"tokenvendor/native/bank"
	"tokenvendor/native/vendor"
	"tokenvendor/services/vendord/config"
)

// StaticRegistry is an in-memory credential registry seeded from
// configuration. Local mode only.
type StaticRegistry struct {
	mu      sync.RWMutex
	holders map[[20]byte]map[[20]byte]struct{}
}

// NewStaticRegistry builds a registry from the configured collections.
func NewStaticRegistry(collections []config.LocalCollection) (*StaticRegistry, error) {
	registry := &StaticRegistry{holders: make(map[[20]byte]map[[20]byte]struct{})}
	for _, collection := range collections {
		addr, err := config.ParseAddress(collection.Address)
		if err != nil {
			return nil, err
		}
		for _, holder := range collection.Holders {
			user, err := config.ParseAddress(holder)
			if err != nil {
				return nil, err
			}
			registry.Grant(addr, user)
		}
	}
	return registry, nil
}

// HasValidCredential reports whether the user was granted a credential in
// the collection.
func (r *StaticRegistry) HasValidCredential(collection, user [20]byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holders[collection][user]
	return ok, nil
}

// Grant records a credential for the user in the collection.
func (r *StaticRegistry) Grant(collection, user [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holders[collection] == nil {
		r.holders[collection] = make(map[[20]byte]struct{})
	}
	r.holders[collection][user] = struct{}{}
}

// Revoke removes the user's credential from the collection.
func (r *StaticRegistry) Revoke(collection, user [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holders[collection], user)
}

// LocalRuntime bundles everything local mode provides to the engine.
type LocalRuntime struct {
	BaseLedger *bank.Ledger
	SwapLedger *bank.Ledger
	Base       vendor.TokenLedger
	Swap       vendor.TokenLedger
	Registry   *StaticRegistry
	Native     *bank.NativeVault
}

// BuildLocal constructs the in-process ledgers over the supplied store,
// seeds the reserve balances and assembles the static registry.
func BuildLocal(store bank.Storage, cfg config.Config) (*LocalRuntime, error) {
	reserve, err := config.ParseAddress(cfg.Engine.Reserve)
	if err != nil {
		return nil, fmt.Errorf("reserve address: %w", err)
	}
	registry, err := NewStaticRegistry(cfg.Local.Collections)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}
	baseLedger := bank.NewLedger(store, "BASE")
	swapLedger := bank.NewLedger(store, "SWAP")
	if err := seedReserve(baseLedger, reserve, cfg.Local.ReserveBase); err != nil {
		return nil, fmt.Errorf("seed base reserve: %w", err)
	}
	if err := seedReserve(swapLedger, reserve, cfg.Local.ReserveSwap); err != nil {
		return nil, fmt.Errorf("seed swap reserve: %w", err)
	}
	return &LocalRuntime{
		BaseLedger: baseLedger,
		SwapLedger: swapLedger,
		Base:       baseLedger.Bind(reserve),
		Swap:       swapLedger.Bind(reserve),
		Registry:   registry,
		Native:     bank.NewNativeVault(store, reserve),
	}, nil
}

// seedReserve tops the reserve account up to the configured balance. Minting
// only the shortfall keeps restarts idempotent.
func seedReserve(ledger *bank.Ledger, reserve [20]byte, amount string) error {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil
	}
	target, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return fmt.Errorf("invalid reserve amount %q", amount)
	}
	if target.Sign() <= 0 {
		return nil
	}
	current, err := ledger.BalanceOf(reserve)
	if err != nil {
		return err
	}
	shortfall := new(big.Int).Sub(target, current)
	if shortfall.Sign() <= 0 {
		return nil
	}
	return ledger.Mint(reserve, shortfall)
}
