package protocol

import "encoding/binary"

func EncodeConfirmation(m Confirmation) []byte {
	buf := make([]byte, ConfirmationLen)
	binary.BigEndian.PutUint32(buf[0:4], MagicConfirmation)
	binary.BigEndian.PutUint32(buf[4:8], m.Sequence)
	// buf[8:12] reserved, zero
	return buf
}

// EncodeAudioPacket returns header and payload as one contiguous buffer.
func EncodeAudioPacket(p AudioPacket) []byte {
	n := p.PayloadBytes()
	buf := make([]byte, AudioHeaderLen+int(n))
	binary.BigEndian.PutUint32(buf[0:4], MagicAudio)
	binary.BigEndian.PutUint32(buf[4:8], p.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], n)
	binary.BigEndian.PutUint32(buf[12:16], p.Timestamp)
	EncodeSamples(buf[AudioHeaderLen:], p.Samples)
	return buf
}

func EncodeHeartbeat(m Heartbeat) []byte {
	buf := make([]byte, HeartbeatLen)
	binary.BigEndian.PutUint32(buf[0:4], MagicHeartbeat)
	binary.BigEndian.PutUint32(buf[4:8], m.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], m.Timestamp)
	return buf
}

// EncodeSamples writes samples into dst as little-endian int16.
// dst must hold at least 2*len(samples) bytes.
func EncodeSamples(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(s))
	}
}

func EncodeConfirmationReply(r ConfirmationReply) []byte {
	buf := make([]byte, ConfirmationReplyLen)
	binary.BigEndian.PutUint32(buf, r.Response)
	return buf
}

func EncodeAudioAck(a AudioAck) []byte {
	buf := make([]byte, AudioAckLen)
	binary.BigEndian.PutUint32(buf[0:4], a.Ack0)
	binary.BigEndian.PutUint32(buf[4:8], a.Sequence)
	return buf
}

func EncodeHeartbeatReply(r HeartbeatReply) []byte {
	buf := make([]byte, HeartbeatReplyLen)
	binary.BigEndian.PutUint32(buf[0:4], r.Response0)
	binary.BigEndian.PutUint32(buf[4:8], r.Response1)
	return buf
}
