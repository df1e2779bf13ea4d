// Package media derives duration and thumbnails from assembled videos.
package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reelhub-go/internal/models"
	"reelhub-go/internal/storage"
)

// ErrUnsupported is returned when a processor cannot handle a file, e.g.
// because it is not stored on the local disk.
var ErrUnsupported = errors.New("media processing unsupported")

type Result struct {
	DurationSeconds *float64
	ThumbnailPath   *string // storage key of the generated thumbnail
}

// Processor inspects an assembled file after upload. Failures must not affect
// the assembled file itself.
type Processor interface {
	Process(ctx context.Context, file *models.AssembledFile) (*Result, error)
}

// Noop skips processing entirely
type Noop struct{}

func (Noop) Process(ctx context.Context, file *models.AssembledFile) (*Result, error) {
	return nil, ErrUnsupported
}

// FFmpeg shells out to ffprobe and ffmpeg. It needs a storage provider that
// exposes local paths.
type FFmpeg struct {
	store       storage.LocalPather
	ffprobePath string
	ffmpegPath  string
	timeout     time.Duration
}

func NewFFmpeg(store storage.StorageProvider) (*FFmpeg, error) {
	local, ok := store.(storage.LocalPather)
	if !ok {
		return nil, fmt.Errorf("%w: storage provider has no local paths", ErrUnsupported)
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &FFmpeg{
		store:       local,
		ffprobePath: ffprobe,
		ffmpegPath:  ffmpeg,
		timeout:     2 * time.Minute,
	}, nil
}

// NewProcessor returns the processor named by kind, falling back to Noop
// when ffmpeg is requested but unavailable.
func NewProcessor(kind string, store storage.StorageProvider) Processor {
	if kind != "ffmpeg" {
		return Noop{}
	}
	p, err := NewFFmpeg(store)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("ffmpeg processor unavailable, videos will be published unprocessed")
		return Noop{}
	}
	return p
}

func (f *FFmpeg) Process(ctx context.Context, file *models.AssembledFile) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	src := f.store.LocalPath(file.FilePath)

	duration, err := f.probeDuration(ctx, src)
	if err != nil {
		return nil, err
	}

	thumbKey := ThumbnailKey(file.FilePath)
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-v", "error", "-y",
		"-ss", thumbnailOffset(duration),
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale=480:-2",
		f.store.LocalPath(thumbKey),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg thumbnail failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return &Result{
		DurationSeconds: &duration,
		ThumbnailPath:   &thumbKey,
	}, nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, src string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return ParseDuration(string(out))
}

// ParseDuration parses ffprobe's bare duration output
func ParseDuration(out string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", out, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %f", d)
	}
	return d, nil
}

// ThumbnailKey places the thumbnail next to the video: videos/x.mp4 -> videos/x.jpg
func ThumbnailKey(videoKey string) string {
	return strings.TrimSuffix(videoKey, path.Ext(videoKey)) + ".jpg"
}

// thumbnailOffset grabs a frame one second in, or at the start of short clips
func thumbnailOffset(duration float64) string {
	if duration > 2 {
		return "1"
	}
	return "0"
}
