package bank

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
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

var (
	alice = [20]byte{0x01}
	bob   = [20]byte{0x02}
	carol = [20]byte{0x03}
)

func TestMintAndTransfer(t *testing.T) {
	ledger := NewLedger(newMemoryStore(), "base")
	if ledger.Symbol() != "BASE" {
		t.Fatalf("symbol not normalised: %s", ledger.Symbol())
	}
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, err := ledger.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance: %s", balance)
	}
	balance, err = ledger.BalanceOf(bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", balance)
	}
	supply, err := ledger.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected supply: %s", supply)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ledger := NewLedger(newMemoryStore(), "BASE")
	if err := ledger.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	ledger := NewLedger(newMemoryStore(), "BASE")
	if err := ledger.Mint(alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for zero, got %v", err)
	}
	if err := ledger.Mint(alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}
	if err := ledger.Mint(alice, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for nil, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger := NewLedger(newMemoryStore(), "BASE")
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(bob, alice, carol, big.NewInt(30)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := ledger.Approve(alice, bob, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(bob, alice, carol, big.NewInt(30)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := ledger.Allowance(alice, bob)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("allowance not consumed: %s", allowance)
	}
	if err := ledger.TransferFrom(bob, alice, carol, big.NewInt(21)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	balance, err := ledger.BalanceOf(carol)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", balance)
	}
}

func TestBurnFromReducesSupply(t *testing.T) {
	ledger := NewLedger(newMemoryStore(), "BASE")
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.BurnFrom(bob, alice, big.NewInt(25)); err != nil {
		t.Fatalf("burn from: %v", err)
	}
	balance, err := ledger.BalanceOf(alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("unexpected balance after burn: %s", balance)
	}
	supply, err := ledger.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("supply not reduced: %s", supply)
	}
}

func TestLedgersShareStoreWithoutCollisions(t *testing.T) {
	store := newMemoryStore()
	base := NewLedger(store, "BASE")
	swap := NewLedger(store, "SWAP")
	if err := base.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint base: %v", err)
	}
	if err := swap.Mint(alice, big.NewInt(7)); err != nil {
		t.Fatalf("mint swap: %v", err)
	}
	balance, err := base.BalanceOf(alice)
	if err != nil {
		t.Fatalf("base balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("base balance leaked: %s", balance)
	}
	balance, err = swap.BalanceOf(alice)
	if err != nil {
		t.Fatalf("swap balance: %v", err)
	}
	if balance.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("swap balance leaked: %s", balance)
	}
}

func TestBoundLedgerActsAsOperator(t *testing.T) {
	store := newMemoryStore()
	ledger := NewLedger(store, "BASE")
	operator := carol
	bound := ledger.Bind(operator)

	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint(operator, big.NewInt(50)); err != nil {
		t.Fatalf("mint operator: %v", err)
	}
	if err := ledger.Approve(alice, operator, big.NewInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := bound.TransferFrom(alice, operator, big.NewInt(60)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if err := bound.Transfer(bob, big.NewInt(10)); err != nil {
		t.Fatalf("push: %v", err)
	}
	balance, err := bound.BalanceOf(operator)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected operator balance: %s", balance)
	}
}

func TestNativeVaultSweep(t *testing.T) {
	store := newMemoryStore()
	vault := NewNativeVault(store, carol)
	amount, err := vault.TransferAll(bob)
	if err != nil {
		t.Fatalf("sweep empty vault: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("empty sweep returned %s", amount)
	}
	if err := vault.Deposit(big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	amount, err = vault.TransferAll(bob)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected sweep amount: %s", amount)
	}
	balance, err := vault.Balance()
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("vault not emptied: %s", balance)
	}
}
