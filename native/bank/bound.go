package bank

import "math/big"

// BoundLedger binds a ledger to a fixed operator party so pull and push
// operations are expressed from that party's point of view. It satisfies
// the token-ledger interface the vendor engine consumes.
type BoundLedger struct {
	ledger   *Ledger
	operator [20]byte
}

// Bind returns a view of the ledger acting as the supplied operator.
func (l *Ledger) Bind(operator [20]byte) *BoundLedger {
	return &BoundLedger{ledger: l, operator: operator}
}

// TransferFrom moves the owner's funds to the recipient on the operator's
// behalf, consuming allowance.
func (b *BoundLedger) TransferFrom(owner, recipient [20]byte, amount *big.Int) error {
	return b.ledger.TransferFrom(b.operator, owner, recipient, amount)
}

// Transfer moves the operator's own funds to the recipient.
func (b *BoundLedger) Transfer(recipient [20]byte, amount *big.Int) error {
	return b.ledger.Transfer(b.operator, recipient, amount)
}

// BalanceOf returns the balance of the supplied address.
func (b *BoundLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return b.ledger.BalanceOf(addr)
}

// Allowance returns the spender's allowance over the owner's funds.
func (b *BoundLedger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return b.ledger.Allowance(owner, spender)
}

// BurnFrom destroys the owner's funds on the operator's behalf.
func (b *BoundLedger) BurnFrom(owner [20]byte, amount *big.Int) error {
	return b.ledger.BurnFrom(b.operator, owner, amount)
}

// NativeVault tracks a native-currency balance for the operator account
// in a dedicated ledger, satisfying the vendor engine's vault interface.
type NativeVault struct {
	ledger *Ledger
	self   [20]byte
}

// NewNativeVault constructs a vault over the supplied store for the given
// reserve address.
func NewNativeVault(store Storage, self [20]byte) *NativeVault {
	return &NativeVault{ledger: NewLedger(store, "NATIVE"), self: self}
}

// Deposit credits native currency to the vault's reserve account.
func (v *NativeVault) Deposit(amount *big.Int) error {
	return v.ledger.Mint(v.self, amount)
}

// Balance returns the vault's current native balance.
func (v *NativeVault) Balance() (*big.Int, error) {
	return v.ledger.BalanceOf(v.self)
}

// TransferAll sweeps the entire native balance to the recipient and
// returns the swept amount.
func (v *NativeVault) TransferAll(recipient [20]byte) (*big.Int, error) {
	balance, err := v.ledger.BalanceOf(v.self)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := v.ledger.Transfer(v.self, recipient, balance); err != nil {
		return nil, err
	}
	return balance, nil
}
