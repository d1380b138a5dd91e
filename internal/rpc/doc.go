// Package rpc defines the wire contract between the docsync client and
// server: request/response messages, a JSON gRPC codec and a hand-written
// service descriptor with matching client and server stubs.
//
// Messages are plain structs encoded as JSON. Both sides must use the
// codec, either through the dial option returned by
// WithJSONCodec or by naming CodecName as the content subtype.
//
// A conditional update that loses the version race fails with
// codes.Aborted; the current remote document travels in the
// RemoteDocumentTrailer trailer.
package rpc
