// Package client owns the capability contract and instruction dispatch.
//
// Ownership boundary:
// - the Capability interface supplied by the embedding application
// - Base not-implemented defaults
// - the Dispatcher mapping one instruction to one capability call and one response
package client
