// Package wallettest provides a scripted wallet.Provider for tests.
package wallettest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"OpenMCP-WalletKit/internal/wallet"
)

// DefaultAddress is the account reported by providers created with New.
const DefaultAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

// Provider records every call and replays configured outcomes.
type Provider struct {
	mu sync.Mutex

	NetworkInfo  wallet.Network
	Account      string
	BalanceValue *big.Int
	BalanceErr   error

	// SendErr 非空时 SendTransaction 直接失败。
	SendErr error
	// WaitErr 非空时 WaitForTransactionReceipt 直接返回该错误。
	WaitErr error
	// Revert 为 true 时回执状态为回滚。
	Revert bool
	// WaitDelay 模拟确认耗时，期间尊重 ctx 取消。
	WaitDelay time.Duration
	// Panic 非空时 SendTransaction 触发 panic。
	Panic any

	sent    []wallet.TransactionRequest
	waited  []wallet.TransactionHandle
	nonce   uint64
	balance int
}

// New returns a provider on a fake EVM network with a 1 ETH balance.
func New() *Provider {
	return &Provider{
		NetworkInfo:  wallet.Network{ID: "testnet", Protocol: wallet.ProtocolEVM, ChainID: big.NewInt(1337)},
		Account:      DefaultAddress,
		BalanceValue: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
	}
}

// Network implements wallet.Provider.
func (p *Provider) Network() wallet.Network { return p.NetworkInfo }

// Address implements wallet.Provider.
func (p *Provider) Address() string { return p.Account }

// Balance implements wallet.Provider.
func (p *Provider) Balance(context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance++
	if p.BalanceErr != nil {
		return nil, p.BalanceErr
	}
	return new(big.Int).Set(p.BalanceValue), nil
}

// SendTransaction implements wallet.Provider.
func (p *Provider) SendTransaction(_ context.Context, req wallet.TransactionRequest) (wallet.TransactionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Panic != nil {
		panic(p.Panic)
	}
	p.sent = append(p.sent, req)
	if p.SendErr != nil {
		return wallet.TransactionHandle{}, p.SendErr
	}
	p.nonce++
	return wallet.TransactionHandle{Hash: fmt.Sprintf("0x%064x", p.nonce)}, nil
}

// WaitForTransactionReceipt implements wallet.Provider.
func (p *Provider) WaitForTransactionReceipt(ctx context.Context, handle wallet.TransactionHandle) (*wallet.Receipt, error) {
	p.mu.Lock()
	p.waited = append(p.waited, handle)
	delay, waitErr, revert := p.WaitDelay, p.WaitErr, p.Revert
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, wallet.ConfirmationTimeout(handle.Hash, ctx.Err())
		case <-timer.C:
		}
	}
	if waitErr != nil {
		return nil, waitErr
	}
	receipt := &wallet.Receipt{
		TransactionHash: handle.Hash,
		BlockNumber:     42,
		GasUsed:         21000,
		Status:          wallet.ReceiptSuccess,
	}
	if revert {
		receipt.Status = wallet.ReceiptReverted
		return receipt, wallet.RevertedError(receipt)
	}
	return receipt, nil
}

// Sent returns a copy of every submitted request.
func (p *Provider) Sent() []wallet.TransactionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wallet.TransactionRequest(nil), p.sent...)
}

// SendCount returns how many times SendTransaction was called.
func (p *Provider) SendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// WaitCount returns how many times WaitForTransactionReceipt was called.
func (p *Provider) WaitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waited)
}

// BalanceCount returns how many times Balance was called.
func (p *Provider) BalanceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Calls returns the total number of provider calls that touch the network.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent) + len(p.waited) + p.balance
}

var _ wallet.Provider = (*Provider)(nil)
