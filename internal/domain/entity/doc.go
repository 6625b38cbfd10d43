// Package entity contains the core domain entities of the oracle pusher.
// These entities describe feeds, target networks, fetched quotes and the
// per-network publication state, and carry no I/O of their own.
package entity
