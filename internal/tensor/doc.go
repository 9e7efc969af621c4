// Package tensor owns the array interchange codec.
//
// Ownership boundary:
// - in-memory float32 buffers with explicit shape
// - backends that serialize one buffer to a self-describing payload (npy, npy-scratch, cbor)
// - the Converter instance that serializes codec work and applies the shape policy
package tensor
