// Package bootstrap turns configuration into wired components shared by
// walletkitd and the walletkit CLI.
package bootstrap
