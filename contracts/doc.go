// Package contracts provides the wire types exchanged between the bridge and the canvas plugin.
//
// This package defines the frames that cross the peer connection:
//   - Command: outbound request with a unique id, a type tag and a params object
//   - Response: inbound reply correlated to a Command by id
//
// It also carries the catalogue of known command types (a tagged union mapping
// each type tag to its params and result shapes) and the error taxonomy used by
// every layer above the transport.
//
// The command type is an open set. Types missing from the catalogue can still be
// sent; the catalogue only adds typed params, typed results and schema validation.
package contracts
