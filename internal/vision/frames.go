package vision

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/your-org/facegate/internal/apperr"
)

const maxFrameBytes = 10 * 1024 * 1024

// FrameSampler pulls evenly spaced JPEG stills out of an uploaded video with
// ffprobe and ffmpeg.
type FrameSampler struct {
	FFmpeg    string
	FFprobe   string
	MaxFrames int
	Width     int
}

// SampleInterval is the gap in whole seconds between sampled frames.
func SampleInterval(duration float64, maxFrames int) int {
	if maxFrames <= 0 {
		return 1
	}
	return max(1, int(duration/float64(maxFrames)))
}

// FrameCount is how many stills Sample returns for a clip of duration. A
// clip shorter than one second still yields its first frame.
func FrameCount(duration float64, maxFrames int) int {
	if duration <= 0 || maxFrames <= 0 {
		return 0
	}
	interval := SampleInterval(duration, maxFrames)
	limit := min(int(duration), maxFrames*interval)
	return max(1, (limit+interval-1)/interval)
}

// Sample returns up to MaxFrames JPEG frames. A clip that ffprobe cannot
// read is reported as invalid media.
func (s *FrameSampler) Sample(ctx context.Context, video []byte) ([][]byte, error) {
	f, err := os.CreateTemp("", "facegate-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("create temp video: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(video); err != nil {
		f.Close()
		return nil, fmt.Errorf("write temp video: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp video: %w", err)
	}

	duration, err := s.clipDuration(ctx, f.Name())
	if err != nil {
		return nil, err
	}
	count := FrameCount(duration, s.MaxFrames)
	if count == 0 {
		return nil, nil
	}
	interval := SampleInterval(duration, s.MaxFrames)

	vf := fmt.Sprintf("fps=1/%d", interval)
	if s.Width > 0 {
		vf += fmt.Sprintf(",scale='min(%d,iw)':-2", s.Width)
	}
	cmd := exec.CommandContext(ctx, s.bin(s.FFmpeg, "ffmpeg"),
		"-hide_banner",
		"-loglevel", "warning",
		"-i", f.Name(),
		"-vf", vf,
		"-frames:v", strconv.Itoa(count),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	var frames [][]byte
	readErr := readJPEGFrames(stdout, func(frame []byte) error {
		frames = append(frames, frame)
		return nil
	})
	if readErr != nil {
		// Drain so Wait does not block on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if readErr != nil {
		return nil, fmt.Errorf("read frames: %w", readErr)
	}
	if waitErr != nil {
		if len(frames) > 0 {
			slog.Warn("ffmpeg exited early", "frames", len(frames), "error", waitErr, "stderr", lastLine(stderr.String()))
			return frames, nil
		}
		return nil, eris.Wrapf(apperr.ErrInvalidMedia, "ffmpeg: %s", lastLine(stderr.String()))
	}
	return frames, nil
}

func (s *FrameSampler) clipDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, s.bin(s.FFprobe, "ffprobe"),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, eris.Wrapf(apperr.ErrInvalidMedia, "read video duration: %s", lastLine(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("run ffprobe: %w", err)
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" || raw == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(apperr.ErrInvalidMedia, "parse duration %q", raw)
	}
	return d, nil
}

func (s *FrameSampler) bin(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// readJPEGFrames splits a stream of concatenated JPEG images and hands each
// one to fn. A clean EOF between frames ends the stream.
func readJPEGFrames(r io.Reader, fn func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	for {
		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frame, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}
		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
