package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"time"
)

var (
	ErrEmptyInput     = errors.New("empty audio input")
	ErrFFmpegNotFound = errors.New("ffmpeg not found")
	ErrDecodeTimeout  = errors.New("ffmpeg decode timed out")
)

const (
	defaultFFmpegPath  = "ffmpeg"
	defaultDecodeLimit = 60 * time.Second
	probeTimeout       = 5 * time.Second
)

// Decoder normalizes arbitrary container bytes to mono 16-bit PCM WAV.
type Decoder interface {
	Decode(ctx context.Context, data []byte) ([]byte, error)
}

// FFmpegDecoder shells out to ffmpeg over stdin/stdout pipes.
type FFmpegDecoder struct {
	Path       string
	SampleRate int
	Timeout    time.Duration
}

func NewFFmpegDecoder(path string, sampleRate int) *FFmpegDecoder {
	if path == "" {
		path = defaultFFmpegPath
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &FFmpegDecoder{Path: path, SampleRate: sampleRate, Timeout: defaultDecodeLimit}
}

// Available reports whether the ffmpeg binary can be executed.
func (d *FFmpegDecoder) Available(ctx context.Context) error {
	if _, err := exec.LookPath(d.Path); err != nil {
		return ErrFFmpegNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	//nolint:gosec // path comes from operator config
	cmd := exec.CommandContext(ctx, d.Path, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg probe: %w", err)
	}
	return nil
}

// Decode converts data to a WAV at d.SampleRate. WAV input already at the
// target shape is returned unchanged.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if info, err := ParseWAVHeader(data); err == nil &&
		info.SampleRate == d.SampleRate && info.Channels == 1 && info.BitsPerSample == 16 {
		return data, nil
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDecodeLimit
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-ac", "1",
		"-ar", strconv.Itoa(d.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	}

	//nolint:gosec // path comes from operator config
	cmd := exec.CommandContext(ctx, d.Path, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrDecodeTimeout
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFFmpegNotFound
		}
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() <= wavHeaderSize {
		return nil, fmt.Errorf("ffmpeg decode: no audio in output")
	}
	return fixStreamedWAVSizes(stdout.Bytes()), nil
}

// ffmpeg cannot seek a pipe, so it leaves the RIFF and data sizes unset.
func fixStreamedWAVSizes(b []byte) []byte {
	if len(b) < wavHeaderSize || Sniff(b) != FormatWAV {
		return b
	}
	if !bytes.Equal(b[36:40], []byte("data")) {
		return b
	}
	dataSize := uint32(len(b) - wavHeaderSize)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	binary.LittleEndian.PutUint32(b[40:44], dataSize)
	return b
}
