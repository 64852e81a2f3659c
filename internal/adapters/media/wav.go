// Package media probes audio payloads for their duration and cuts them to
// a shorter length.
package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	minFmtChunkSize = 16

	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// WAVInfo describes a RIFF/WAVE payload.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	// DataOffset is the offset of the first sample byte.
	DataOffset int
	// DataSize is the number of sample bytes present in the payload.
	DataSize int
}

// Seconds returns the audio duration in whole frames over the sample rate,
// the same measure TruncateWAV cuts by.
func (w WAVInfo) Seconds() float64 {
	if w.SampleRate == 0 || w.BlockAlign == 0 {
		return 0
	}
	frames := w.DataSize / int(w.BlockAlign)
	return float64(frames) / float64(w.SampleRate)
}

// checkLayout rejects a fmt chunk whose rates disagree with each other. A
// header with an inflated byte rate would otherwise probe shorter than the
// audio it carries.
func (w WAVInfo) checkLayout() error {
	if w.Channels == 0 || w.SampleRate == 0 || w.BlockAlign == 0 || w.BitsPerSample == 0 {
		return fmt.Errorf("%w: zero channels, sample rate, block align or sample size", ErrMalformed)
	}
	if want := uint32(w.Channels) * ((uint32(w.BitsPerSample) + 7) / 8); uint32(w.BlockAlign) != want {
		return fmt.Errorf("%w: block align %d, want %d", ErrMalformed, w.BlockAlign, want)
	}
	if want := uint64(w.SampleRate) * uint64(w.BlockAlign); uint64(w.ByteRate) != want {
		return fmt.Errorf("%w: byte rate %d, want %d", ErrMalformed, w.ByteRate, want)
	}
	return nil
}

// IsWAV reports whether payload starts with a RIFF/WAVE header.
func IsWAV(payload []byte) bool {
	return len(payload) >= riffHeaderSize &&
		bytes.Equal(payload[0:4], []byte("RIFF")) &&
		bytes.Equal(payload[8:12], []byte("WAVE"))
}

// ParseWAV walks the RIFF chunks and returns the format and data location.
// A data chunk whose declared size runs past the payload (streamed
// recordings) is clamped to what is present.
func ParseWAV(payload []byte) (WAVInfo, error) {
	if !IsWAV(payload) {
		return WAVInfo{}, ErrUnsupportedFormat
	}
	var (
		info   WAVInfo
		hasFmt bool
	)
	off := riffHeaderSize
	for off+chunkHeaderSize <= len(payload) {
		id := string(payload[off : off+4])
		size := int(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
		body := off + chunkHeaderSize

		switch id {
		case "fmt ":
			if size < minFmtChunkSize || body+size > len(payload) {
				return WAVInfo{}, fmt.Errorf("%w: fmt chunk too short", ErrMalformed)
			}
			f := payload[body:]
			info.AudioFormat = binary.LittleEndian.Uint16(f[0:2])
			info.Channels = binary.LittleEndian.Uint16(f[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(f[4:8])
			info.ByteRate = binary.LittleEndian.Uint32(f[8:12])
			info.BlockAlign = binary.LittleEndian.Uint16(f[12:14])
			info.BitsPerSample = binary.LittleEndian.Uint16(f[14:16])
			hasFmt = true
		case "data":
			if !hasFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformed)
			}
			switch info.AudioFormat {
			case formatPCM, formatIEEEFloat, formatExtensible:
			default:
				return WAVInfo{}, fmt.Errorf("%w: wav encoding %d", ErrUnsupportedFormat, info.AudioFormat)
			}
			if err := info.checkLayout(); err != nil {
				return WAVInfo{}, err
			}
			info.DataOffset = body
			info.DataSize = min(size, len(payload)-body)
			info.DataSize -= info.DataSize % int(info.BlockAlign)
			return info, nil
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return WAVInfo{}, fmt.Errorf("%w: no data chunk", ErrMalformed)
}

// TruncateWAV keeps the first allowedSeconds of audio, cut on a frame
// boundary. Chunks before the data chunk are preserved, chunks after it are
// dropped, and the RIFF and data sizes are rewritten.
func TruncateWAV(payload []byte, allowedSeconds float64) ([]byte, WAVInfo, error) {
	info, err := ParseWAV(payload)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	if allowedSeconds < 0 || math.IsNaN(allowedSeconds) {
		allowedSeconds = 0
	}
	frames := int(math.Floor(allowedSeconds * float64(info.SampleRate)))
	keep := min(frames*int(info.BlockAlign), info.DataSize)

	headerLen := info.DataOffset
	out := make([]byte, headerLen+keep, headerLen+keep+1)
	copy(out, payload[:headerLen])
	copy(out[headerLen:], payload[info.DataOffset:info.DataOffset+keep])
	if keep%2 == 1 {
		out = append(out, 0)
	}

	binary.LittleEndian.PutUint32(out[info.DataOffset-4:info.DataOffset], uint32(keep))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))

	trimmed := info
	trimmed.DataSize = keep
	return out, trimmed, nil
}
