package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
)

// revertingInitCode deploys nothing: PUSH1 0 PUSH1 0 REVERT.
var revertingInitCode = common.FromHex("0x60006000fd")

// autoCommit mines a block after every accepted transaction.
type autoCommit struct {
	simulated.Client
	sim *simulated.Backend
}

func (a autoCommit) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := a.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	a.sim.Commit()
	return nil
}

func newFundedBackend(t *testing.T) (*simulated.Backend, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000))
	sim := simulated.NewBackend(coretypes.GenesisAlloc{
		crypto.PubkeyToAddress(key.PublicKey): {Balance: funds},
	})
	t.Cleanup(func() { _ = sim.Close() })
	return sim, key
}

func TestProviderTransferConfirms(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, key := newFundedBackend(t)
	provider, err := New(ctx, autoCommit{Client: sim.Client(), sim: sim}, key, "simulated",
		WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	network := provider.Network()
	if network.ChainID.Int64() != 1337 || network.Protocol != wallet.ProtocolEVM || network.ID != "simulated" {
		t.Fatalf("unexpected network %+v", network)
	}
	if provider.Address() != crypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Fatalf("unexpected address %s", provider.Address())
	}

	recipient := common.HexToAddress("0x1000000000000000000000000000000000000001")
	amount := big.NewInt(12345)
	handle, err := provider.SendTransaction(ctx, wallet.TransactionRequest{To: recipient.Hex(), Value: amount})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	receipt, err := provider.WaitForTransactionReceipt(ctx, handle)
	if err != nil {
		t.Fatalf("wait receipt: %v", err)
	}
	if !receipt.Succeeded() || receipt.TransactionHash != handle.Hash || receipt.BlockNumber == 0 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	got, err := sim.Client().BalanceAt(ctx, recipient, nil)
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if got.Cmp(amount) != 0 {
		t.Fatalf("recipient balance %s, want %s", got, amount)
	}

	balance, err := provider.Balance(ctx)
	if err != nil {
		t.Fatalf("provider balance: %v", err)
	}
	if balance.Sign() <= 0 {
		t.Fatalf("unexpected provider balance %s", balance)
	}
}

func TestProviderSequentialNonces(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, key := newFundedBackend(t)
	provider, err := New(ctx, autoCommit{Client: sim.Client(), sim: sim}, key, "", WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if provider.Network().ID != "chain-1337" {
		t.Fatalf("unexpected default network id %q", provider.Network().ID)
	}

	recipient := "0x2000000000000000000000000000000000000002"
	for i := 0; i < 3; i++ {
		handle, err := provider.SendTransaction(ctx, wallet.TransactionRequest{To: recipient, Value: big.NewInt(1)})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if _, err := provider.WaitForTransactionReceipt(ctx, handle); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	nonce, err := sim.Client().NonceAt(ctx, crypto.PubkeyToAddress(key.PublicKey), nil)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 3 {
		t.Fatalf("expected nonce 3, got %d", nonce)
	}
}

func TestProviderRevertIsConfirmationError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, key := newFundedBackend(t)
	provider, err := New(ctx, autoCommit{Client: sim.Client(), sim: sim}, key, "simulated", WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	handle, err := provider.SendTransaction(ctx, wallet.TransactionRequest{Data: revertingInitCode, Gas: 100_000})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	receipt, err := provider.WaitForTransactionReceipt(ctx, handle)
	if xerrors.CodeOf(err) != wallet.CodeTransactionReverted {
		t.Fatalf("expected TRANSACTION_REVERTED, got %v", err)
	}
	if receipt == nil || receipt.Status != wallet.ReceiptReverted {
		t.Fatalf("expected reverted receipt, got %+v", receipt)
	}
}

func TestProviderConfirmationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, key := newFundedBackend(t)
	// 不自动出块，交易一直停留在交易池。
	provider, err := New(ctx, sim.Client(), key, "simulated",
		WithConfirmTimeout(150*time.Millisecond),
		WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	handle, err := provider.SendTransaction(ctx, wallet.TransactionRequest{
		To:    "0x3000000000000000000000000000000000000003",
		Value: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}
	start := time.Now()
	_, err = provider.WaitForTransactionReceipt(ctx, handle)
	if xerrors.CodeOf(err) != wallet.CodeConfirmationTimeout {
		t.Fatalf("expected CONFIRMATION_TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("confirmation timeout was not honoured")
	}
	if xerrors.MetadataOf(err)["tx_hash"] != handle.Hash {
		t.Fatalf("timeout should carry hash, got %v", xerrors.MetadataOf(err))
	}
}

func TestProviderCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, key := newFundedBackend(t)
	provider, err := New(ctx, sim.Client(), key, "simulated", WithConfirmTimeout(0), WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	handle, err := provider.SendTransaction(ctx, wallet.TransactionRequest{
		To:    "0x3000000000000000000000000000000000000003",
		Value: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("send transaction: %v", err)
	}

	waitCtx, waitCancel := context.WithCancel(ctx)
	time.AfterFunc(100*time.Millisecond, waitCancel)
	_, err = provider.WaitForTransactionReceipt(waitCtx, handle)
	if xerrors.CodeOf(err) != wallet.CodeConfirmationTimeout || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to surface as CONFIRMATION_TIMEOUT, got %v", err)
	}
}

func TestProviderSubmissionFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sim, _ := newFundedBackend(t)
	poor, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	provider, err := New(ctx, sim.Client(), poor, "simulated")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	cases := []struct {
		name string
		req  wallet.TransactionRequest
	}{
		{name: "insufficient funds", req: wallet.TransactionRequest{To: "0x4000000000000000000000000000000000000004", Value: big.NewInt(1), Gas: 21000}},
		{name: "bad recipient", req: wallet.TransactionRequest{To: "0xnothex"}},
		{name: "negative value", req: wallet.TransactionRequest{To: "0x4000000000000000000000000000000000000004", Value: big.NewInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := provider.SendTransaction(ctx, tc.req)
			if xerrors.CodeOf(err) != wallet.CodeSubmissionFailed {
				t.Fatalf("expected SUBMISSION_FAILED, got %v", err)
			}
		})
	}
}

func TestWaitRejectsMalformedHash(t *testing.T) {
	sim, key := newFundedBackend(t)
	provider, err := New(context.Background(), sim.Client(), key, "simulated")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = provider.WaitForTransactionReceipt(context.Background(), wallet.TransactionHandle{Hash: "0x1234"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestDialValidatesInput(t *testing.T) {
	ctx := context.Background()
	if _, err := Dial(ctx, Config{RPCURL: "http://127.0.0.1:8545"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for missing key, got %v", err)
	}
	key, _ := crypto.GenerateKey()
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	if _, err := Dial(ctx, Config{PrivateKey: "0x" + hexKey}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for missing rpc url, got %v", err)
	}
	if _, err := Dial(ctx, Config{PrivateKey: hexKey, RPCURL: "unknown://node"}); xerrors.CodeOf(err) != wallet.CodeNetworkUnavailable {
		t.Fatalf("expected NETWORK_UNAVAILABLE, got %v", err)
	}
}

// lostAck hands the transaction to the node, then outlives the caller's
// context as if the response never arrived.
type lostAck struct {
	simulated.Client
}

func (l lostAck) SendTransaction(ctx context.Context, tx *coretypes.Transaction) error {
	if err := l.Client.SendTransaction(context.Background(), tx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestProviderInterruptedBroadcastKeepsHash(t *testing.T) {
	sim, key := newFundedBackend(t)
	provider, err := New(context.Background(), lostAck{Client: sim.Client()}, key, "simulated")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = provider.SendTransaction(ctx, wallet.TransactionRequest{
		To:    "0x5000000000000000000000000000000000000005",
		Value: big.NewInt(1),
		Gas:   21000,
	})
	if xerrors.CodeOf(err) != wallet.CodeSubmissionUnknown {
		t.Fatalf("expected SUBMISSION_UNKNOWN, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	hash := xerrors.MetadataOf(err)["tx_hash"]
	if hash == "" {
		t.Fatal("interrupted broadcast must carry the signed hash")
	}

	// 节点实际已收到交易，出块后可查到回执。
	sim.Commit()
	receipt, err := sim.Client().TransactionReceipt(context.Background(), common.HexToHash(hash))
	if err != nil || receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("expected the reported hash to be mined, got %v %v", receipt, err)
	}
}

func TestDialKeepsDefaultConfirmTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "eth_chainId" {
			http.Error(w, "unsupported", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"0x539"}`))
	}))
	defer srv.Close()

	key, _ := crypto.GenerateKey()
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	cases := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{name: "unset", timeout: 0, want: defaultConfirmTimeout},
		{name: "configured", timeout: 30 * time.Second, want: 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := Dial(context.Background(), Config{
				Network:        "local",
				RPCURL:         srv.URL,
				ChainID:        1337,
				PrivateKey:     hexKey,
				ConfirmTimeout: tc.timeout,
			})
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer provider.Close()
			if provider.confirmTimeout != tc.want {
				t.Fatalf("expected confirm timeout %s, got %s", tc.want, provider.confirmTimeout)
			}
		})
	}
}
