package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Limits constrains stream decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 1024 * 1024}
}

func DecodeConfirmationReply(b []byte) (ConfirmationReply, error) {
	if len(b) != ConfirmationReplyLen {
		return ConfirmationReply{}, fmt.Errorf("%w: confirmation reply len=%d", ErrInvalidLength, len(b))
	}
	return ConfirmationReply{Response: binary.BigEndian.Uint32(b)}, nil
}

func DecodeAudioAck(b []byte) (AudioAck, error) {
	if len(b) != AudioAckLen {
		return AudioAck{}, fmt.Errorf("%w: audio ack len=%d", ErrInvalidLength, len(b))
	}
	return AudioAck{
		Ack0:     binary.BigEndian.Uint32(b[0:4]),
		Sequence: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

func DecodeHeartbeatReply(b []byte) (HeartbeatReply, error) {
	if len(b) != HeartbeatReplyLen {
		return HeartbeatReply{}, fmt.Errorf("%w: heartbeat reply len=%d", ErrInvalidLength, len(b))
	}
	return HeartbeatReply{
		Response0: binary.BigEndian.Uint32(b[0:4]),
		Response1: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// DecodeSamples is the inverse of EncodeSamples.
func DecodeSamples(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd payload len=%d", ErrInvalidLength, len(b))
	}
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:]))
	}
	return out, nil
}

// ReadMessage reads one device message from r, dispatching on its magic word.
//
// On ErrUnknownMagic exactly four bytes have been consumed, so a caller may
// keep reading to resync. Any other error leaves the stream unusable.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var word [4]byte
	if err := readWord(r, word[:]); err != nil {
		return nil, err
	}
	magic := binary.BigEndian.Uint32(word[:])

	switch magic {
	case MagicConfirmation:
		var rest [ConfirmationLen - 4]byte
		if err := readFull(r, rest[:]); err != nil {
			return nil, err
		}
		return Confirmation{Sequence: binary.BigEndian.Uint32(rest[0:4])}, nil

	case MagicHeartbeat:
		var rest [HeartbeatLen - 4]byte
		if err := readFull(r, rest[:]); err != nil {
			return nil, err
		}
		return Heartbeat{
			Sequence:  binary.BigEndian.Uint32(rest[0:4]),
			Timestamp: binary.BigEndian.Uint32(rest[4:8]),
		}, nil

	case MagicAudio:
		var rest [AudioHeaderLen - 4]byte
		if err := readFull(r, rest[:]); err != nil {
			return nil, err
		}
		seq := binary.BigEndian.Uint32(rest[0:4])
		n := binary.BigEndian.Uint32(rest[4:8])
		ts := binary.BigEndian.Uint32(rest[8:12])
		if n > limits.MaxPayloadBytes {
			return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
		}
		if n%BytesPerSample != 0 {
			return nil, fmt.Errorf("%w: odd payload len=%d", ErrInvalidLength, n)
		}
		payload := make([]byte, n)
		if err := readFull(r, payload); err != nil {
			return nil, err
		}
		samples, err := DecodeSamples(payload)
		if err != nil {
			return nil, err
		}
		return AudioPacket{Sequence: seq, Timestamp: ts, Samples: samples}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%08X", ErrUnknownMagic, magic)
	}
}

// readWord passes a clean EOF (nothing read) through, so callers can tell a
// closed peer from one that hung up mid-message.
func readWord(r io.Reader, buf []byte) error {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) && n == 0 {
		return io.EOF
	}
	return readErr(err)
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return readErr(err)
}

func readErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ErrTruncated
	}
	return err
}
