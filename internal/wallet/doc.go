// Package wallet defines the wallet provider contract shared by every
// action: a signing account bound to one network that can report its
// balance, submit transactions and wait for their receipts. It also loads
// network definitions from YAML and keeps one provider per network.
package wallet
