// Package audio holds the small amount of audio plumbing the call pipeline needs:
// format sniffing, WAV framing and the ffmpeg-backed decoder.
package audio

import "bytes"

// Format identifies an audio container detected from leading bytes.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatWebM    Format = "webm"
)

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicOgg  = []byte("OggS")
	magicFLAC = []byte("fLaC")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
)

// Sniff detects the container of b by inspecting its first bytes.
// Callers must not rely on which engine produced the payload.
func Sniff(b []byte) Format {
	switch {
	case len(b) >= 12 && bytes.Equal(b[0:4], magicRIFF) && bytes.Equal(b[8:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(b, magicID3):
		return FormatMP3
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	case bytes.HasPrefix(b, magicOgg):
		return FormatOGG
	case bytes.HasPrefix(b, magicFLAC):
		return FormatFLAC
	case bytes.HasPrefix(b, magicEBML):
		return FormatWebM
	}
	return FormatUnknown
}

// MIMEType returns the content type used when serving f over HTTP.
func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	case FormatFLAC:
		return "audio/flac"
	case FormatWebM:
		return "audio/webm"
	}
	return "application/octet-stream"
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return ".bin"
	}
	return "." + string(f)
}
