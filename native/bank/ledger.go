// Package bank implements an in-process fungible token ledger with
// balances, allowances and burnable supply. It backs the vendor engine in
// local mode and in tests, where no external chain is available.
package bank

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
)

// Storage abstracts the key-value persistence the ledger requires.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedAccount struct {
	Balance    string
	Allowances map[string]string
}

type storedSupply struct {
	Total string
}

// Ledger tracks one asset's balances and allowances in the backing store.
type Ledger struct {
	store  Storage
	symbol string
}

// NewLedger constructs a ledger for the supplied asset symbol. Symbols
// namespace the storage keys, so several ledgers can share one store.
func NewLedger(store Storage, symbol string) *Ledger {
	return &Ledger{store: store, symbol: strings.ToUpper(strings.TrimSpace(symbol))}
}

// Symbol returns the asset symbol the ledger was constructed with.
func (l *Ledger) Symbol() string {
	return l.symbol
}

// Mint credits freshly created supply to the recipient.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	account, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	account.balance.Add(account.balance, amount)
	if err := l.saveAccount(to, account); err != nil {
		return err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	return l.saveSupply(new(big.Int).Add(supply, amount))
}

// BalanceOf returns the current balance of the supplied address.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	account, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.balance, nil
}

// TotalSupply returns the circulating supply of the asset.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	var stored storedSupply
	ok, err := l.store.KVGet(l.supplyKey(), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored.Total)
}

// Allowance returns how much the spender may move on the owner's behalf.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	account, err := l.loadAccount(owner)
	if err != nil {
		return nil, err
	}
	allowance, ok := account.allowances[spender]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

// Approve sets the spender's allowance over the owner's funds.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	account, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	account.allowances[spender] = new(big.Int).Set(amount)
	return l.saveAccount(owner, account)
}

// Transfer moves funds directly between two addresses.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// TransferFrom moves the owner's funds on behalf of the spender,
// consuming allowance.
func (l *Ledger) TransferFrom(spender, owner, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.spendAllowance(owner, spender, amount); err != nil {
		return err
	}
	return l.move(owner, to, amount)
}

// BurnFrom destroys the owner's funds on behalf of the spender, consuming
// allowance and reducing total supply.
func (l *Ledger) BurnFrom(spender, owner [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.spendAllowance(owner, spender, amount); err != nil {
		return err
	}
	account, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	if account.balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.balance.Sub(account.balance, amount)
	if err := l.saveAccount(owner, account); err != nil {
		return err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("bank: supply underflow")
	}
	return l.saveSupply(new(big.Int).Sub(supply, amount))
}

func (l *Ledger) move(from, to [20]byte, amount *big.Int) error {
	source, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if source.balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	source.balance.Sub(source.balance, amount)
	if err := l.saveAccount(from, source); err != nil {
		return err
	}
	dest, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	dest.balance.Add(dest.balance, amount)
	return l.saveAccount(to, dest)
}

func (l *Ledger) spendAllowance(owner, spender [20]byte, amount *big.Int) error {
	account, err := l.loadAccount(owner)
	if err != nil {
		return err
	}
	allowance, ok := account.allowances[spender]
	if !ok || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	account.allowances[spender] = new(big.Int).Sub(allowance, amount)
	return l.saveAccount(owner, account)
}

type ledgerAccount struct {
	balance    *big.Int
	allowances map[[20]byte]*big.Int
}

func (l *Ledger) loadAccount(addr [20]byte) (*ledgerAccount, error) {
	var stored storedAccount
	ok, err := l.store.KVGet(l.accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &ledgerAccount{
		balance:    big.NewInt(0),
		allowances: make(map[[20]byte]*big.Int),
	}
	if !ok {
		return account, nil
	}
	balance, err := parseAmount(stored.Balance)
	if err != nil {
		return nil, err
	}
	account.balance = balance
	for key, value := range stored.Allowances {
		spender, err := parseAddress(key)
		if err != nil {
			return nil, err
		}
		allowance, err := parseAmount(value)
		if err != nil {
			return nil, err
		}
		account.allowances[spender] = allowance
	}
	return account, nil
}

func (l *Ledger) saveAccount(addr [20]byte, account *ledgerAccount) error {
	stored := storedAccount{Balance: account.balance.String()}
	if len(account.allowances) > 0 {
		stored.Allowances = make(map[string]string, len(account.allowances))
		for spender, allowance := range account.allowances {
			if allowance.Sign() == 0 {
				continue
			}
			stored.Allowances[hex.EncodeToString(spender[:])] = allowance.String()
		}
	}
	return l.store.KVPut(l.accountKey(addr), stored)
}

func (l *Ledger) saveSupply(total *big.Int) error {
	return l.store.KVPut(l.supplyKey(), storedSupply{Total: total.String()})
}

func (l *Ledger) accountKey(addr [20]byte) []byte {
	return []byte("bank/" + l.symbol + "/account/" + hex.EncodeToString(addr[:]))
}

func (l *Ledger) supplyKey() []byte {
	return []byte("bank/" + l.symbol + "/supply")
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("bank: invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("bank: amount %q must not be negative", value)
	}
	return amount, nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("bank: invalid address %q", value)
	}
	copy(addr[:], raw)
	return addr, nil
}
