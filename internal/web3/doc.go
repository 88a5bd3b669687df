// Package web3 houses blockchain connectivity: network definitions loaded
// from YAML, compiled contract artifacts, and the Client abstraction that
// wallets use to read balances, transfer value, deploy and invoke contracts.
package web3
