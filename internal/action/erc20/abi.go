package erc20

import (
	_ "embed"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// InterfaceVersion identifies the embedded contract interface. It changes
// whenever erc20.abi.json changes.
const InterfaceVersion = "erc20/v1"

//go:embed erc20.abi.json
var abiJSON string

var loadABI = sync.OnceValues(func() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(abiJSON))
})

// ABI returns the parsed ERC-20 interface.
func ABI() (abi.ABI, error) {
	return loadABI()
}

// EncodeApprove packs approve(spender, amount).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := loadABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("approve", spender, amount)
}

// EncodeTransfer packs transfer(to, amount).
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := loadABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack("transfer", to, amount)
}
