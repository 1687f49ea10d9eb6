// Package relay owns the APDU forwarding cycle.
//
// Ownership boundary:
// - peer frame read and write
//
// - chip session open, transceive and close
//
// - error frame reporting
//
// Lifecycle order:
// - init -> receiving -> transmitting -> receiving
//
// - any failed step -> error -> receiving
//
// - the chip session stays open until Close.
//
// Every wait on the chip is bounded by the caller's context and, when
// configured, by Config.CompletionTimeout.
//
// Relay does not own the peer or transport lifetimes.
package relay
