// Package erc20 contributes ERC-20 token actions: approve and transfer.
package erc20

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"OpenMCP-WalletKit/internal/action"
	xerrors "OpenMCP-WalletKit/internal/errors"
	"OpenMCP-WalletKit/internal/wallet"
)

// SourceName is the capability provider name of this package.
const SourceName = "erc20"

const (
	ActionApprove  = "approve"
	ActionTransfer = "transfer"
)

var (
	tokenField = action.Field{
		Name:        "tokenAddress",
		Description: "The address of the ERC-20 token contract",
		Kind:        action.KindAddress,
		Required:    true,
	}
	amountField = action.Field{
		Name:        "amount",
		Description: "The amount in atomic units of the token (no decimals applied), as a decimal string",
		Kind:        action.KindUint256,
		Required:    true,
	}
)

// Source returns the erc20 action source.
func Source() action.Source {
	return action.NewSource(SourceName, Approve(), Transfer())
}

// Approve returns the approve action definition.
func Approve() action.Definition {
	return action.Definition{
		Name: ActionApprove,
		Description: `Approve a spender to transfer up to an amount of an ERC-20 token on behalf of the wallet.

Inputs:
- tokenAddress: the token contract address
- spenderAddress: the address allowed to spend
- amount: allowance in atomic units`,
		Schema: action.NewSchema(
			tokenField,
			action.Field{
				Name:        "spenderAddress",
				Description: "The address that will be allowed to spend the tokens",
				Kind:        action.KindAddress,
				Required:    true,
			},
			amountField,
		),
		FailureContext: "approving spender",
		Invoke:         approve,
	}
}

// Transfer returns the transfer action definition.
func Transfer() action.Definition {
	return action.Definition{
		Name: ActionTransfer,
		Description: `Transfer an amount of an ERC-20 token from the wallet to a destination address.

Inputs:
- tokenAddress: the token contract address
- destinationAddress: the recipient
- amount: amount in atomic units`,
		Schema: action.NewSchema(
			tokenField,
			action.Field{
				Name:        "destinationAddress",
				Description: "The address receiving the tokens",
				Kind:        action.KindAddress,
				Required:    true,
			},
			amountField,
		),
		FailureContext: "transferring tokens",
		Invoke:         transfer,
	}
}

func approve(ctx context.Context, provider wallet.Provider, args action.Args) (action.Result, error) {
	token := args.Address("tokenAddress")
	spender := args.Address("spenderAddress")
	amount := args.BigInt("amount")

	data, err := EncodeApprove(common.HexToAddress(spender), amount)
	if err != nil {
		return action.Result{}, xerrors.Wrap(action.CodeActionFailed, err, "failed to encode approve call")
	}
	receipt, err := action.SubmitAndWait(ctx, provider, wallet.TransactionRequest{To: token, Data: data})
	if err != nil {
		return action.Result{}, err
	}
	return action.Success(fmt.Sprintf("Successfully approved %s to spend %s units of token %s. Transaction hash: %s",
		spender, amount, token, receipt.TransactionHash), receipt.TransactionHash), nil
}

func transfer(ctx context.Context, provider wallet.Provider, args action.Args) (action.Result, error) {
	token := args.Address("tokenAddress")
	destination := args.Address("destinationAddress")
	amount := args.BigInt("amount")

	data, err := EncodeTransfer(common.HexToAddress(destination), amount)
	if err != nil {
		return action.Result{}, xerrors.Wrap(action.CodeActionFailed, err, "failed to encode transfer call")
	}
	receipt, err := action.SubmitAndWait(ctx, provider, wallet.TransactionRequest{To: token, Data: data})
	if err != nil {
		return action.Result{}, err
	}
	return action.Success(fmt.Sprintf("Successfully transferred %s units of token %s to %s. Transaction hash: %s",
		amount, token, destination, receipt.TransactionHash), receipt.TransactionHash), nil
}
