// Package walletkit is a Go client for the WalletKit REST API.
package walletkit
