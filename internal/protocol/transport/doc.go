// Package transport owns the stream the session runs on.
//
// Ownership boundary:
// - the abstract Transport/Stream pair the session depends on
// - the gRPC implementation of flwr.proto.FlowerService/Join
// - the server-side service descriptor used by in-process peers
package transport
