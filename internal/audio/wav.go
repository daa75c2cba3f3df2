package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a buffer does not carry a canonical PCM WAV header.
var ErrNotWAV = errors.New("not a PCM WAV buffer")

// WrapPCMAsWAV prepends a canonical 44-byte RIFF header to little-endian PCM samples.
func WrapPCMAsWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)

	copy(wav[0:4], magicRIFF)
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], magicWAVE)

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], uint16(bitsPerSample))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[wavHeaderSize:], pcm)

	return wav
}

// SilentWAV returns d of 16-bit mono silence at sampleRate. The output is
// byte-for-byte identical for identical arguments.
func SilentWAV(d time.Duration, sampleRate int) []byte {
	samples := int(d.Seconds() * float64(sampleRate))
	return WrapPCMAsWAV(make([]byte, samples*2), sampleRate, 1, 16)
}

// WAVInfo describes the fmt chunk of a canonical WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// ParseWAVHeader reads the canonical 44-byte header produced by WrapPCMAsWAV and ffmpeg.
// Files with extra chunks before the samples are rejected so callers never
// treat chunk bytes as PCM.
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < wavHeaderSize || Sniff(b) != FormatWAV {
		return WAVInfo{}, ErrNotWAV
	}
	if string(b[12:16]) != "fmt " || binary.LittleEndian.Uint32(b[16:20]) != 16 || string(b[36:40]) != "data" {
		return WAVInfo{}, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(b[20:22]) != 1 {
		return WAVInfo{}, ErrNotWAV
	}
	return WAVInfo{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(b[40:44])),
	}, nil
}
