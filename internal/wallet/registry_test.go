package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
	"OpenMCP-WalletKit/internal/wallet/wallettest"
)

const networksYAML = `
default: sepolia
networks:
  sepolia:
    protocol: EVM
    rpc_url: https://sepolia.example
    chain_id: 11155111
  local:
    rpc_url: http://127.0.0.1:8545
    chain_id: 1337
    confirm_timeout: 30s
`

type closingProvider struct {
	*wallettest.Provider
	closed *int
}

func (c closingProvider) Close() error {
	*c.closed++
	return nil
}

func TestLoadNetworks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(networksYAML), 0o600); err != nil {
		t.Fatalf("write networks: %v", err)
	}
	defs, err := wallet.LoadNetworks(path)
	if err != nil {
		t.Fatalf("load networks: %v", err)
	}
	if got := defs.Names(); len(got) != 2 || got[0] != "local" || got[1] != "sepolia" {
		t.Fatalf("unexpected names %v", got)
	}
	if defs.Networks["sepolia"].Protocol != wallet.ProtocolEVM {
		t.Fatalf("protocol not normalized: %q", defs.Networks["sepolia"].Protocol)
	}
	if defs.Networks["local"].Protocol != wallet.ProtocolEVM {
		t.Fatalf("protocol default not applied: %q", defs.Networks["local"].Protocol)
	}
	if defs.Networks["local"].ConfirmTimeout.Seconds() != 30 {
		t.Fatalf("unexpected confirm timeout %s", defs.Networks["local"].ConfirmTimeout)
	}

	empty, err := wallet.LoadNetworks("")
	if err != nil || len(empty.Networks) != 0 {
		t.Fatalf("expected empty definitions, got %+v, %v", empty, err)
	}
}

func TestParseNetworksRejectsBadDefinitions(t *testing.T) {
	if _, err := wallet.ParseNetworks([]byte("networks:\n  a:\n    chain_id: 1\n")); err == nil {
		t.Fatal("expected error for missing rpc_url")
	}
	if _, err := wallet.ParseNetworks([]byte("default: b\nnetworks:\n  a:\n    rpc_url: http://x\n")); err == nil {
		t.Fatal("expected error for unknown default")
	}
}

func TestRegistryBuildsProvidersPerNetwork(t *testing.T) {
	defs, err := wallet.ParseNetworks([]byte(networksYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	closed := 0
	factories := map[string]wallet.Factory{
		wallet.ProtocolEVM: func(_ context.Context, name string, def wallet.NetworkDefinition) (wallet.Provider, error) {
			p := wallettest.New()
			p.NetworkInfo = wallet.Network{ID: name, Protocol: def.Protocol, ChainID: big.NewInt(def.ChainID)}
			return closingProvider{Provider: p, closed: &closed}, nil
		},
	}

	reg, err := wallet.NewRegistry(context.Background(), defs, factories, "")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if reg.DefaultNetwork() != "sepolia" {
		t.Fatalf("unexpected default %q", reg.DefaultNetwork())
	}
	provider, err := reg.Default()
	if err != nil {
		t.Fatalf("default provider: %v", err)
	}
	if provider.Network().ChainID.Int64() != 11155111 {
		t.Fatalf("unexpected chain id %s", provider.Network().ChainID)
	}
	if _, err := reg.Provider("mainnet"); !errors.Is(err, xerrors.New(xerrors.CodeNotFound, "")) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	override, err := wallet.NewRegistry(context.Background(), defs, factories, "local")
	if err != nil {
		t.Fatalf("override registry: %v", err)
	}
	if override.DefaultNetwork() != "local" {
		t.Fatalf("override not applied: %q", override.DefaultNetwork())
	}

	reg.Close()
	override.Close()
	if closed != 4 {
		t.Fatalf("expected 4 providers closed, got %d", closed)
	}
}

func TestRegistryRejectsUnknownProtocol(t *testing.T) {
	defs, err := wallet.ParseNetworks([]byte("networks:\n  sol:\n    protocol: solana\n    rpc_url: http://x\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = wallet.NewRegistry(context.Background(), defs, map[string]wallet.Factory{}, "")
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}

	if _, err := wallet.NewRegistry(context.Background(), wallet.NetworkDefinitions{}, nil, ""); xerrors.CodeOf(err) != wallet.CodeNetworkUnavailable {
		t.Fatalf("expected NETWORK_UNAVAILABLE, got %v", err)
	}
}

func TestConfirmationErrorClassification(t *testing.T) {
	timeout := wallet.ConfirmationTimeout("0x01", context.DeadlineExceeded)
	if !wallet.IsConfirmationError(timeout) || !errors.Is(timeout, context.DeadlineExceeded) {
		t.Fatalf("unexpected timeout classification: %v", timeout)
	}
	reverted := wallet.RevertedError(&wallet.Receipt{TransactionHash: "0x02"})
	if !wallet.IsConfirmationError(reverted) {
		t.Fatal("revert should be a confirmation error")
	}
	if xerrors.MetadataOf(reverted)["tx_hash"] != "0x02" {
		t.Fatal("revert should carry the transaction hash")
	}
	if wallet.IsConfirmationError(wallet.SubmissionError(errors.New("nonce too low"), "submit")) {
		t.Fatal("submission errors are not confirmation errors")
	}
	if xerrors.RetryableError(timeout) {
		t.Fatal("confirmation timeouts must not be retryable")
	}
}
