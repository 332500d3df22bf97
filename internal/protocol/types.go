package protocol

import "fmt"

const (
	MagicConfirmation uint32 = 0xDEADBEEF
	MagicAudio        uint32 = 0xAABBCCDD
	MagicHeartbeat    uint32 = 0xFFEEDDCC
)

// Wire sizes of the fixed parts of each message and reply.
const (
	ConfirmationLen      = 12
	AudioHeaderLen       = 16
	HeartbeatLen         = 12
	ConfirmationReplyLen = 4
	AudioAckLen          = 8
	HeartbeatReplyLen    = 8

	BytesPerSample = 2
)

// Kind names a message by its magic word.
type Kind uint32

const (
	KindConfirmation = Kind(MagicConfirmation)
	KindAudio        = Kind(MagicAudio)
	KindHeartbeat    = Kind(MagicHeartbeat)
)

func (k Kind) String() string {
	switch k {
	case KindConfirmation:
		return "confirmation"
	case KindAudio:
		return "audio"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("unknown(0x%08X)", uint32(k))
	}
}

// Message is one decoded device->collector message.
type Message interface {
	Kind() Kind
}

// Confirmation opens a session and tells the collector where the device resumed.
type Confirmation struct {
	Sequence uint32
}

// AudioPacket carries one captured frame.
type AudioPacket struct {
	Sequence  uint32
	Timestamp uint32
	Samples   []int16
}

// Heartbeat is the liveness probe independent of audio traffic.
type Heartbeat struct {
	Sequence  uint32
	Timestamp uint32
}

func (Confirmation) Kind() Kind { return KindConfirmation }
func (AudioPacket) Kind() Kind  { return KindAudio }
func (Heartbeat) Kind() Kind    { return KindHeartbeat }

// PayloadBytes is the payload length field: two bytes per sample.
func (p AudioPacket) PayloadBytes() uint32 {
	return uint32(len(p.Samples) * BytesPerSample)
}

// ConfirmationReply is the single word the collector answers a confirmation with.
// Any value is accepted; only its presence matters.
type ConfirmationReply struct {
	Response uint32
}

// AudioAck acknowledges one audio packet.
type AudioAck struct {
	// Ack0 is carried on the wire but has no agreed meaning; the collector
	// echoes MagicAudio. It is never validated.
	Ack0     uint32
	Sequence uint32
}

// Matches reports whether the ack confirms the packet with sequence seq.
func (a AudioAck) Matches(seq uint32) bool {
	return a.Sequence == seq
}

// HeartbeatReply answers a heartbeat.
type HeartbeatReply struct {
	Response0 uint32
	Response1 uint32
}

// Valid reports whether the reply echoes the heartbeat magic.
func (r HeartbeatReply) Valid() bool {
	return r.Response0 == MagicHeartbeat
}
