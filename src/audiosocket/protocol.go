// Package audiosocket implements the Asterisk AudioSocket protocol: one TCP
// connection per call carrying framed signed-linear PCM (8 kHz, 16-bit,
// mono) plus control messages. Every message is a 3-byte header (kind byte,
// uint16 big-endian payload length) followed by the payload. The first
// message on a connection must be a KindID handshake carrying the 16-byte
// call UUID; audio may not flow before it.
package audiosocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message kinds on the wire.
const (
	KindHangup  byte = 0x00 // terminate the call leg
	KindID      byte = 0x01 // handshake, payload is a 16-byte UUID
	KindSilence byte = 0x02 // silence filler
	KindSlin    byte = 0x10 // signed-linear PCM audio payload
	KindError   byte = 0xff // peer-reported error
)

const (
	// FrameSize is 20 ms of 8 kHz 16-bit mono PCM, the payload size used
	// when chunking outbound audio.
	FrameSize = 320
	// FrameInterval is the pacing between outbound frames.
	frameIntervalMs = 20

	maxPayload = 0xffff
)

// writeMessage writes one framed message.
func writeMessage(w io.Writer, kind byte, payload []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("audiosocket: payload too large: %d bytes", len(payload))
	}
	header := [3]byte{kind}
	binary.BigEndian.PutUint16(header[1:], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readMessage reads one framed message. The payload is freshly allocated.
func readMessage(r io.Reader) (byte, []byte, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint16(header[1:])
	if length == 0 {
		return header[0], nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}
