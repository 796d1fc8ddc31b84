// Package storage defines the persistence contracts for shelters, alerts and
// the user directory. Backends live in the memory, sqlite and redis
// subpackages.
package storage
