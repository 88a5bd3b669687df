// Package identity owns wallet identities: their secret keys, the durable
// records that survive restarts, and the Vault that guarantees exactly one
// live Wallet per identity id.
package identity
