// Package chain adapts the custodial escrow contract's call surface for the
// settlement coordinator. All amounts cross this boundary in the contract's
// smallest unit; all ids are derived with AgreementID.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
)

const (
	// gasMarginPercent is the fixed safety margin applied on top of the gas
	// estimate before submission.
	gasMarginPercent = 20

	defaultTokenDecimals  = 18
	defaultConfirmTimeout = 90 * time.Second
)

// Agreement is the current on-chain truth for one escrow record.
type Agreement struct {
	Contributor           string
	Amount                *big.Int
	ContributorConfirmed  bool
	CounterpartyConfirmed bool
	Exists                bool
}

// Config holds everything needed to construct a chain client. All fields
// except TokenDecimals and ConfirmTimeout are required.
type Config struct {
	RPCURL          string
	ContractAddress string
	SignerKey       string
	ChainID         int64
	TokenDecimals   int
	ConfirmTimeout  time.Duration
}

// Client drives the escrow contract with a single custodial signer. Write
// calls are serialized so the signer never has more than one transaction in
// flight.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address

	key     *ecdsa.PrivateKey
	signer  common.Address
	chainID *big.Int

	decimals       int
	confirmTimeout time.Duration

	// mu serializes outbound transactions from the custodial signer.
	mu sync.Mutex
}

// New constructs and validates a chain client. Construction fails fast on
// missing or malformed configuration so a misconfigured process never makes
// it to serving.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("chain rpc url is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("contract address %q is not a valid address", cfg.ContractAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be greater than zero")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("signer key is required")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	decimals := cfg.TokenDecimals
	if decimals == 0 {
		decimals = defaultTokenDecimals
	}
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("token decimals %d out of range", decimals)
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}

	parsedABI, err := abi.JSON(strings.NewReader(agreementABI))
	if err != nil {
		return nil, fmt.Errorf("parse agreement abi: %w", err)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	return &Client{
		eth:            eth,
		contract:       bind.NewBoundContract(address, parsedABI, eth, eth, eth),
		abi:            parsedABI,
		address:        address,
		key:            key,
		signer:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:        big.NewInt(cfg.ChainID),
		decimals:       decimals,
		confirmTimeout: confirmTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

// TokenDecimals returns the contract token's decimal places.
func (c *Client) TokenDecimals() int {
	return c.decimals
}

// Signer returns the custodial signer address.
func (c *Client) Signer() string {
	return c.signer.Hex()
}

// Open creates the on-chain agreement for a proposal. amount is already in
// the contract's smallest unit.
func (c *Client) Open(ctx context.Context, proposalID, contributor string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(contributor) {
		return "", apperrors.WithMetadata(apperrors.CodeChainInvalidAddress,
			"contributor is not a valid address",
			map[string]string{"contributor": contributor})
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", apperrors.New(apperrors.CodeChainInvalidAmount, "escrow amount must be positive")
	}
	return c.transact(ctx, "open escrow", "openAgreement",
		AgreementID(proposalID), common.HexToAddress(contributor), amount)
}

// Release pays out the agreement to the contributor.
func (c *Client) Release(ctx context.Context, proposalID string) (string, error) {
	return c.transact(ctx, "release escrow", "releaseAgreement", AgreementID(proposalID))
}

// Cancel returns the escrowed tokens to the founder.
func (c *Client) Cancel(ctx context.Context, proposalID string) (string, error) {
	return c.transact(ctx, "cancel escrow", "cancelAgreement", AgreementID(proposalID))
}

// GetAgreement reads the current on-chain truth for a proposal. This read
// path is the single source used for reconciliation; the internal ledger is
// never consulted here.
func (c *Client) GetAgreement(ctx context.Context, proposalID string) (Agreement, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAgreement", AgreementID(proposalID)); err != nil {
		return Agreement{}, Classify("get agreement", err)
	}
	if len(out) != 5 {
		return Agreement{}, apperrors.New(apperrors.CodeChainError, "get agreement: unexpected return arity")
	}

	contributor, ok0 := out[0].(common.Address)
	amount, ok1 := out[1].(*big.Int)
	contributorConfirmed, ok2 := out[2].(bool)
	counterpartyConfirmed, ok3 := out[3].(bool)
	exists, ok4 := out[4].(bool)
	if !ok0 || !ok1 || !ok2 || !ok3 || !ok4 {
		return Agreement{}, apperrors.New(apperrors.CodeChainError, "get agreement: unexpected return types")
	}

	return Agreement{
		Contributor:           contributor.Hex(),
		Amount:                amount,
		ContributorConfirmed:  contributorConfirmed,
		CounterpartyConfirmed: counterpartyConfirmed,
		Exists:                exists,
	}, nil
}

// transact estimates, submits, and waits for one contract write while
// holding the signer lock. A confirmation wait that times out returns the
// transaction reference with a pending error: the transaction may still
// land, so the caller must not treat it as rejected.
func (c *Client) transact(ctx context.Context, op, method string, args ...interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.signer,
		To:   &c.address,
		Data: input,
	})
	if err != nil {
		return "", Classify(op, err)
	}
	gas += gas * gasMarginPercent / 100

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", Classify(op, err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return "", fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gas
	opts.GasPrice = gasPrice

	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return "", Classify(op, err)
	}
	txRef := tx.Hash().Hex()

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return txRef, PendingError(op, txRef)
		}
		return txRef, Classify(op, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return txRef, apperrors.WithMetadata(apperrors.CodeChainReverted,
			op+": transaction reverted on chain",
			map[string]string{"tx_ref": txRef})
	}
	return txRef, nil
}
