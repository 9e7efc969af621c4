// Package protocol owns the Flower transport wire contract.
//
// Ownership boundary:
// - ServerMessage/ClientMessage variants and their scalar/status/parameter payloads
// - protobuf wire encoding of flwr.proto transport messages
// - the gRPC codec and message size limits
package protocol
