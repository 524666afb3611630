package adapters

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"tokenvendor/native/vendor"
	"tokenvendor/services/vendord/config"
)

const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"burnFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const credentialABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// EVMRuntime bundles the on-chain collaborators for evm mode.
type EVMRuntime struct {
	Client   *ethclient.Client
	Base     vendor.TokenLedger
	Swap     vendor.TokenLedger
	Registry vendor.AccessRegistry
	Native   vendor.NativeVault
}

// BuildEVM connects to the configured JSON-RPC endpoint and wires ERC-20
// ledgers, the credential registry and the native vault around the
// operator key.
func BuildEVM(cfg config.Config) (*EVMRuntime, error) {
	client, err := ethclient.Dial(strings.TrimSpace(cfg.EVM.RPCURL))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	keyHex, err := os.ReadFile(cfg.EVM.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimSpace(strings.TrimPrefix(string(keyHex), "0x")))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	chainID := big.NewInt(cfg.EVM.ChainID)
	if chainID.Sign() <= 0 {
		chainID, err = client.ChainID(context.Background())
		if err != nil {
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	timeout := cfg.EVM.CallTimeout.Duration

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	baseToken, err := config.ParseAddress(cfg.EVM.BaseToken)
	if err != nil {
		return nil, fmt.Errorf("base token: %w", err)
	}
	swapToken, err := config.ParseAddress(cfg.EVM.SwapToken)
	if err != nil {
		return nil, fmt.Errorf("swap token: %w", err)
	}
	base := newERC20Ledger(client, tokenABI, common.Address(baseToken), signer, timeout)
	swap := newERC20Ledger(client, tokenABI, common.Address(swapToken), signer, timeout)

	nftABI, err := abi.JSON(strings.NewReader(credentialABI))
	if err != nil {
		return nil, fmt.Errorf("parse credential abi: %w", err)
	}
	registry := &ChainRegistry{client: client, abi: nftABI, timeout: timeout}

	return &EVMRuntime{
		Client:   client,
		Base:     base,
		Swap:     swap,
		Registry: registry,
		Native:   &ChainVault{client: client, signer: signer, chainID: chainID, timeout: timeout},
	}, nil
}

// ERC20Ledger drives a deployed ERC-20 contract through the operator key.
// Write operations block until the transaction is mined so that the engine
// observes transfer failures synchronously.
type ERC20Ledger struct {
	contract *bind.BoundContract
	client   *ethclient.Client
	signer   *bind.TransactOpts
	timeout  time.Duration
}

func newERC20Ledger(client *ethclient.Client, tokenABI abi.ABI, token common.Address, signer *bind.TransactOpts, timeout time.Duration) *ERC20Ledger {
	return &ERC20Ledger{
		contract: bind.NewBoundContract(token, tokenABI, client, client, client),
		client:   client,
		signer:   signer,
		timeout:  timeout,
	}
}

// BalanceOf returns the on-chain token balance of the address.
func (l *ERC20Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	ctx, cancel := l.callContext()
	defer cancel()
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.Address(addr)); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return unpackUint(out)
}

// Allowance returns the spender's on-chain allowance over the owner's funds.
func (l *ERC20Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	ctx, cancel := l.callContext()
	defer cancel()
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", common.Address(owner), common.Address(spender)); err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return unpackUint(out)
}

// Transfer sends tokens from the operator account.
func (l *ERC20Ledger) Transfer(recipient [20]byte, amount *big.Int) error {
	return l.transact("transfer", common.Address(recipient), amount)
}

// TransferFrom pulls tokens from the owner using the operator's allowance.
func (l *ERC20Ledger) TransferFrom(owner, recipient [20]byte, amount *big.Int) error {
	return l.transact("transferFrom", common.Address(owner), common.Address(recipient), amount)
}

// BurnFrom destroys the owner's tokens using the operator's allowance.
func (l *ERC20Ledger) BurnFrom(owner [20]byte, amount *big.Int) error {
	return l.transact("burnFrom", common.Address(owner), amount)
}

func (l *ERC20Ledger) transact(method string, args ...interface{}) error {
	tx, err := l.contract.Transact(l.signer, method, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	ctx, cancel := l.callContext()
	defer cancel()
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("%s: wait mined: %w", method, err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", method, tx.Hash().Hex())
	}
	return nil
}

func (l *ERC20Ledger) callContext() (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), l.timeout)
}

// ChainRegistry answers credential checks against NFT collections: holding
// any token of a whitelisted collection counts as a valid credential.
type ChainRegistry struct {
	client  *ethclient.Client
	abi     abi.ABI
	timeout time.Duration
}

// HasValidCredential reports whether the user holds a token of the
// collection contract.
func (r *ChainRegistry) HasValidCredential(collection, user [20]byte) (bool, error) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	contract := bind.NewBoundContract(common.Address(collection), r.abi, r.client, r.client, r.client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.Address(user)); err != nil {
		return false, fmt.Errorf("credential balanceOf: %w", err)
	}
	balance, err := unpackUint(out)
	if err != nil {
		return false, err
	}
	return balance.Sign() > 0, nil
}

// ChainVault exposes the operator account's native balance to the engine.
type ChainVault struct {
	client  *ethclient.Client
	signer  *bind.TransactOpts
	chainID *big.Int
	timeout time.Duration
}

// Balance returns the operator's native-currency balance.
func (v *ChainVault) Balance() (*big.Int, error) {
	ctx, cancel := v.callContext()
	defer cancel()
	return v.client.BalanceAt(ctx, v.signer.From, nil)
}

// TransferAll sweeps the operator's native balance, minus the gas cost of
// the sweep itself, to the recipient.
func (v *ChainVault) TransferAll(recipient [20]byte) (*big.Int, error) {
	ctx, cancel := v.callContext()
	defer cancel()
	balance, err := v.client.BalanceAt(ctx, v.signer.From, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	gasPrice, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	const gasLimit = 21_000
	gasCost := new(big.Int).Mul(gasPrice, big.NewInt(gasLimit))
	amount := new(big.Int).Sub(balance, gasCost)
	if amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	nonce, err := v.client.PendingNonceAt(ctx, v.signer.From)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tx := gethtypes.NewTransaction(nonce, common.Address(recipient), amount, gasLimit, gasPrice, nil)
	signed, err := v.signer.Signer(v.signer.From, tx)
	if err != nil {
		return nil, fmt.Errorf("sign sweep: %w", err)
	}
	if err := v.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send sweep: %w", err)
	}
	if _, err := bind.WaitMined(ctx, v.client, signed); err != nil {
		return nil, fmt.Errorf("wait sweep: %w", err)
	}
	return amount, nil
}

func (v *ChainVault) callContext() (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), v.timeout)
}

func unpackUint(out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty call result")
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected call result %T", out[0])
	}
	return new(big.Int).Set(value), nil
}
