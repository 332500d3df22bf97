package protocol

import "errors"

var (
	ErrUnknownMagic    = errors.New("protocol: unknown magic")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidLength   = errors.New("protocol: invalid length")
)
