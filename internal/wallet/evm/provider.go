package evm

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/pkg/logger"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = time.Second
)

// Backend is the subset of chain access the provider needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Provider signs EIP-1559 transactions with a local key and submits them
// through a Backend.
type Provider struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	from           common.Address
	network        wallet.Network
	signer         coretypes.Signer
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	closer         func()

	// mu 串行化同一签名账户的提交，保证 nonce 连续。
	mu sync.Mutex
}

// Option 定义可选配置。
type Option func(*Provider)

// WithConfirmTimeout bounds WaitForTransactionReceipt. Zero disables the
// provider-level bound and leaves only the caller's context.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(p *Provider) {
		if timeout >= 0 {
			p.confirmTimeout = timeout
		}
	}
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(interval time.Duration) Option {
	return func(p *Provider) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCloser registers a function run by Close.
func WithCloser(fn func()) Option {
	return func(p *Provider) {
		p.closer = fn
	}
}

// New builds a provider for networkID over backend. The chain ID is read
// from the backend.
func New(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, networkID string, opts ...Option) (*Provider, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供链访问后端")
	}
	if key == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供签名私钥")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(wallet.CodeNetworkUnavailable, err, "获取链 ID 失败")
	}
	if networkID == "" {
		networkID = "chain-" + chainID.String()
	}

	p := &Provider{
		backend:        backend,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		network:        wallet.Network{ID: networkID, Protocol: wallet.ProtocolEVM, ChainID: new(big.Int).Set(chainID)},
		signer:         coretypes.LatestSignerForChainID(chainID),
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		logger:         logger.Component("wallet.evm"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// ParsePrivateKey decodes a hex encoded secp256k1 key with or without 0x.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "签名私钥为空")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析签名私钥失败")
	}
	return key, nil
}

// Network implements wallet.Provider.
func (p *Provider) Network() wallet.Network {
	n := p.network
	n.ChainID = new(big.Int).Set(p.network.ChainID)
	return n
}

// Address implements wallet.Provider.
func (p *Provider) Address() string {
	return p.from.Hex()
}

// Balance implements wallet.Provider.
func (p *Provider) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := p.backend.BalanceAt(ctx, p.from, nil)
	if err != nil {
		return nil, xerrors.Wrap(wallet.CodeNetworkUnavailable, err, "查询余额失败")
	}
	return balance, nil
}

// SendTransaction implements wallet.Provider. The transaction is signed and
// broadcast once; any failure before the node accepts it is a submission
// failure.
func (p *Provider) SendTransaction(ctx context.Context, req wallet.TransactionRequest) (wallet.TransactionHandle, error) {
	var to *common.Address
	if strings.TrimSpace(req.To) != "" {
		if !common.IsHexAddress(req.To) {
			return wallet.TransactionHandle{}, wallet.SubmissionError(
				xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid recipient %q", req.To)), "invalid transaction request")
		}
		addr := common.HexToAddress(req.To)
		to = &addr
	}
	value := new(big.Int)
	if req.Value != nil {
		if req.Value.Sign() < 0 {
			return wallet.TransactionHandle{}, wallet.SubmissionError(
				xerrors.New(xerrors.CodeInvalidArgument, "negative value"), "invalid transaction request")
		}
		value.Set(req.Value)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	nonce, err := p.backend.PendingNonceAt(ctx, p.from)
	if err != nil {
		return wallet.TransactionHandle{}, wallet.SubmissionError(err, "failed to fetch nonce")
	}
	tip, err := p.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return wallet.TransactionHandle{}, wallet.SubmissionError(err, "failed to suggest gas tip")
	}
	head, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return wallet.TransactionHandle{}, wallet.SubmissionError(err, "failed to fetch latest header")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas := req.Gas
	if gas == 0 {
		gas, err = p.backend.EstimateGas(ctx, gethcore.CallMsg{
			From:      p.from,
			To:        to,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Value:     value,
			Data:      req.Data,
		})
		if err != nil {
			return wallet.TransactionHandle{}, wallet.SubmissionError(err, "gas estimation failed")
		}
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   p.network.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := coretypes.SignTx(tx, p.signer, p.key)
	if err != nil {
		return wallet.TransactionHandle{}, wallet.SubmissionError(err, "failed to sign transaction")
	}
	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		if ctx.Err() != nil {
			// 请求在广播途中结束，节点是否收到未知。
			p.logger.Warn("交易广播中断",
				slog.String("network", p.network.ID),
				slog.String("tx_hash", signed.Hash().Hex()),
				slog.Uint64("nonce", nonce),
				slog.Any("error", err),
			)
			return wallet.TransactionHandle{}, wallet.SubmissionUnknown(signed.Hash().Hex(), err)
		}
		return wallet.TransactionHandle{}, wallet.SubmissionError(err, "node rejected transaction")
	}

	hash := signed.Hash().Hex()
	recipient := ""
	if to != nil {
		recipient = to.Hex()
	}
	logger.Audit().Info("transaction_submitted",
		slog.String("network", p.network.ID),
		slog.String("from", p.from.Hex()),
		slog.String("to", recipient),
		slog.String("value", value.String()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.String("tx_hash", hash),
	)
	return wallet.TransactionHandle{Hash: hash}, nil
}

// WaitForTransactionReceipt implements wallet.Provider. A missing receipt
// is treated as pending until the confirmation timeout or ctx ends.
func (p *Provider) WaitForTransactionReceipt(ctx context.Context, handle wallet.TransactionHandle) (*wallet.Receipt, error) {
	hashBytes := common.FromHex(handle.Hash)
	if len(hashBytes) != common.HashLength {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid transaction hash %q", handle.Hash))
	}
	hash := common.BytesToHash(hashBytes)

	if p.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return p.finish(receipt)
		}
		if err != nil && !stdErrors.Is(err, gethcore.NotFound) && ctx.Err() == nil {
			p.logger.Debug("查询交易回执失败，继续等待",
				slog.String("tx_hash", handle.Hash),
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, wallet.ConfirmationTimeout(handle.Hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) finish(receipt *coretypes.Receipt) (*wallet.Receipt, error) {
	out := &wallet.Receipt{
		TransactionHash: receipt.TxHash.Hex(),
		GasUsed:         receipt.GasUsed,
		Status:          wallet.ReceiptSuccess,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.ContractAddress != (common.Address{}) {
		out.ContractAddress = receipt.ContractAddress.Hex()
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		out.Status = wallet.ReceiptReverted
		logger.Audit().Warn("transaction_reverted",
			slog.String("network", p.network.ID),
			slog.String("tx_hash", out.TransactionHash),
			slog.Uint64("block", out.BlockNumber),
		)
		return out, wallet.RevertedError(out)
	}
	logger.Audit().Info("transaction_confirmed",
		slog.String("network", p.network.ID),
		slog.String("tx_hash", out.TransactionHash),
		slog.Uint64("block", out.BlockNumber),
		slog.Uint64("gas_used", out.GasUsed),
	)
	return out, nil
}

// Close releases the underlying connection when the provider owns one.
func (p *Provider) Close() error {
	if p != nil && p.closer != nil {
		p.closer()
		p.closer = nil
	}
	return nil
}

var _ wallet.Provider = (*Provider)(nil)
