// Package mysql persists wallet identities in MySQL. It owns the connection
// pool settings, the embedded schema migrations and the identity.Store
// implementation backed by the identities and identity_registry tables.
package mysql
