// Package audio holds the small PCM helpers shared by the call pipeline:
// WAV container framing for the STT upload and RMS energy used by the
// voice-activity policy. All call audio is 8 kHz, 16-bit, mono signed
// linear PCM (narrowband telephony).
package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// SampleRate is the telephony sample rate used on every call leg.
	SampleRate = 8000
	// Channels is the channel count of call audio.
	Channels = 1
	// BitsPerSample is the sample width of call audio.
	BitsPerSample = 16

	// HeaderSize is the size of the RIFF/WAVE header produced by PCMToWAV.
	HeaderSize = 44
)

// PCMToWAV wraps raw little-endian 16-bit mono PCM in a minimal WAV
// container. Header fields are computed from the input length; only the
// fixed format parameters (8 kHz, mono, 16-bit) are constants.
func PCMToWAV(pcm []byte) []byte {
	byteRate := SampleRate * Channels * BitsPerSample / 8
	blockAlign := Channels * BitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, HeaderSize, HeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	return append(buf, pcm...)
}

// WAVDataSize reads the declared data-chunk size from a WAV produced by
// PCMToWAV. It exists so callers can sanity-check round-trips.
func WAVDataSize(wav []byte) (int, error) {
	if len(wav) < HeaderSize {
		return 0, fmt.Errorf("audio: wav too short: %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, fmt.Errorf("audio: not a RIFF/WAVE container")
	}
	return int(binary.LittleEndian.Uint32(wav[40:44])), nil
}
