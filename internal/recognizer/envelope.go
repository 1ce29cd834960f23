package recognizer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Engine state envelope constants
const (
	// EnvelopeVersion is the current engine state layout version. A bump
	// invalidates states written by older builds instead of feeding the
	// engine a blob it cannot parse.
	EnvelopeVersion = 0x01

	// EnvelopeHeaderSize is the fixed envelope prefix: 4 magic bytes,
	// 1 version byte, 4 payload length bytes.
	EnvelopeHeaderSize = 9
)

// envelopeMagic marks a blob as an engine state envelope.
var envelopeMagic = []byte("T1SE")

// WrapState encloses a raw engine state blob in a versioned envelope.
// Layout: [Magic:4][Version:1][PayloadLen:4][Payload:N]
func WrapState(payload []byte) []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(payload))
	copy(buf[0:4], envelopeMagic)
	buf[4] = EnvelopeVersion
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[EnvelopeHeaderSize:], payload)
	return buf
}

// UnwrapState validates an envelope and returns the raw engine state payload.
func UnwrapState(data []byte) ([]byte, error) {
	if len(data) < EnvelopeHeaderSize {
		return nil, fmt.Errorf("state envelope too short: expected at least %d bytes, got %d",
			EnvelopeHeaderSize, len(data))
	}

	if !bytes.Equal(data[0:4], envelopeMagic) {
		return nil, fmt.Errorf("invalid state envelope magic: 0x%x", data[0:4])
	}

	if data[4] != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported state envelope version: 0x%02x (current 0x%02x)",
			data[4], EnvelopeVersion)
	}

	payloadLen := binary.BigEndian.Uint32(data[5:9])
	if int(payloadLen) != len(data)-EnvelopeHeaderSize {
		return nil, fmt.Errorf("state envelope length mismatch: header says %d bytes, got %d bytes",
			payloadLen, len(data)-EnvelopeHeaderSize)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[EnvelopeHeaderSize:])
	return payload, nil
}
