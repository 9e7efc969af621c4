// Package capabilities holds the builtin capabilities the CLI can run
// against a server without any local learning code.
package capabilities
