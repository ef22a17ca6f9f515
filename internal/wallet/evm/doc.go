// Package evm implements wallet.Provider for EVM networks using go-ethereum.
// A provider owns one signing key and serialises nonce assignment.
package evm
