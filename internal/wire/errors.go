package wire

import "errors"

var (
	// ErrMalformedPacket is returned when a declared length overruns the
	// bytes actually available, at the frame level or inside a payload's
	// own length-prefixed fields.
	ErrMalformedPacket = errors.New("wire: malformed packet")

	// ErrPayloadTooLarge is returned by the encoder when a string exceeds
	// 255 bytes or the whole payload exceeds 65535 bytes.
	ErrPayloadTooLarge = errors.New("wire: payload too large")

	// ErrUnknownKind is returned by Decoder.Next when the tag byte doesn't match
	// any kind this codec knows about. Callers log and drop such packets;
	// an unknown kind never by itself terminates the connection.
	ErrUnknownKind = errors.New("wire: unknown message kind")
)
