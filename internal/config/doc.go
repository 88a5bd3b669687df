// Package config loads the JSON runtime configuration and the credentials the
// service needs at start-up. Credentials come from the process environment
// (optionally seeded from a .env file) and the OS keyring, and are read once.
package config
