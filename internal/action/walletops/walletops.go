// Package walletops contributes actions on the wallet itself: inspecting the
// account and sending the network's native currency.
package walletops

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
)

// SourceName is the capability provider name of this package.
const SourceName = "wallet"

const (
	ActionGetWalletDetails = "get_wallet_details"
	ActionNativeTransfer   = "native_transfer"
)

// Source returns the wallet action source.
func Source() action.Source {
	return action.NewSource(SourceName, GetWalletDetails(), NativeTransfer())
}

// GetWalletDetails reports network, address and native balance. It never
// submits a transaction.
func GetWalletDetails() action.Definition {
	return action.Definition{
		Name:           ActionGetWalletDetails,
		Description:    "Get the wallet's address, network and native balance. Takes no inputs.",
		Schema:         action.NewSchema(),
		FailureContext: "fetching wallet details",
		Invoke:         walletDetails,
	}
}

// NativeTransfer returns the native currency transfer definition.
func NativeTransfer() action.Definition {
	return action.Definition{
		Name: ActionNativeTransfer,
		Description: `Transfer the network's native currency from the wallet to a destination address.

Inputs:
- destinationAddress: the recipient
- amount: amount in wei`,
		Schema: action.NewSchema(
			action.Field{
				Name:        "destinationAddress",
				Description: "The address receiving the funds",
				Kind:        action.KindAddress,
				Required:    true,
			},
			action.Field{
				Name:        "amount",
				Description: "The amount in wei, as a decimal string",
				Kind:        action.KindUint256,
				Required:    true,
			},
		),
		FailureContext: "transferring native funds",
		Invoke:         nativeTransfer,
	}
}

func walletDetails(ctx context.Context, provider wallet.Provider, _ action.Args) (action.Result, error) {
	balance, err := provider.Balance(ctx)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnknown {
			err = xerrors.Wrap(wallet.CodeNetworkUnavailable, err, "failed to read balance")
		}
		return action.Result{}, err
	}
	network := provider.Network()

	var b strings.Builder
	b.WriteString("Wallet details:\n")
	fmt.Fprintf(&b, "- Address: %s\n", provider.Address())
	fmt.Fprintf(&b, "- Network: %s\n", network.ID)
	fmt.Fprintf(&b, "- Protocol: %s\n", network.Protocol)
	if network.ChainID != nil {
		fmt.Fprintf(&b, "- Chain ID: %s\n", network.ChainID)
	}
	fmt.Fprintf(&b, "- Native balance: %s wei", balance)
	return action.Success(b.String(), ""), nil
}

func nativeTransfer(ctx context.Context, provider wallet.Provider, args action.Args) (action.Result, error) {
	destination := args.Address("destinationAddress")
	amount := args.BigInt("amount")

	receipt, err := action.SubmitAndWait(ctx, provider, wallet.TransactionRequest{To: destination, Value: amount})
	if err != nil {
		return action.Result{}, err
	}
	return action.Success(fmt.Sprintf("Successfully transferred %s wei to %s. Transaction hash: %s",
		amount, destination, receipt.TransactionHash), receipt.TransactionHash), nil
}
