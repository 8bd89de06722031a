package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/adforge/api/internal/client"
	"github.com/adforge/api/internal/config"
	"github.com/adforge/api/internal/model"
)

// Request describes one composition: scene assets in order, optional
// per-scene narration, optional music bed, and timed overlay directives.
type Request struct {
	JobID         string
	SceneURLs     []string
	Durations     []float64
	VoiceoverURLs map[int]string
	MusicURL      string
	Overlays      []model.Overlay
}

// Result is the composed output file plus its derived properties.
type Result struct {
	Path     string
	Duration float64
	Width    int
	Height   int
}

// CompositionError reports a local composition failure with the raw tool
// diagnostic attached. It is not retriable unless the failure class is
// transient (temp disk full, for example) — a malformed input won't fix
// itself on retry.
type CompositionError struct {
	Asset     string
	Diag      string
	Transient bool
	Err       error
}

func (e *CompositionError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("composition failed on asset %s: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("composition failed: %v", e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// IsTransientComposition reports whether err is a composition failure worth
// retrying.
func IsTransientComposition(err error) bool {
	var ce *CompositionError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}

// FFmpegComposer assembles the final video locally with ffmpeg. Given
// identical inputs it produces output with identical timing; it performs no
// remote API calls beyond downloading the input assets.
type FFmpegComposer struct {
	cfg     *config.ComposerConfig
	fetcher client.AssetFetcher
}

// NewFFmpegComposer creates a composer using the configured ffmpeg binary
func NewFFmpegComposer(cfg *config.ComposerConfig, fetcher client.AssetFetcher) *FFmpegComposer {
	return &FFmpegComposer{cfg: cfg, fetcher: fetcher}
}

// Compose downloads the input assets, builds the filtergraph, and encodes
// the final video. The returned file lives under the composer work dir and
// belongs to the caller.
func (c *FFmpegComposer) Compose(ctx context.Context, req *Request) (*Result, error) {
	if len(req.SceneURLs) == 0 {
		return nil, &CompositionError{Err: fmt.Errorf("no scene assets")}
	}
	if len(req.SceneURLs) != len(req.Durations) {
		return nil, &CompositionError{Err: fmt.Errorf("have %d scenes but %d durations", len(req.SceneURLs), len(req.Durations))}
	}

	workDir := filepath.Join(c.cfg.WorkDir, "compose-"+req.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &CompositionError{Transient: true, Err: fmt.Errorf("create work dir: %w", err)}
	}

	in, err := c.downloadInputs(ctx, req, workDir)
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(workDir, "final.mp4")
	args, err := buildArgs(in, c.cfg, outPath)
	if err != nil {
		return nil, &CompositionError{Err: err}
	}

	log.Printf("[Composer] job=%s composing %d scenes (%d overlays)", req.JobID, len(req.SceneURLs), len(req.Overlays))

	cmd := exec.CommandContext(ctx, c.cfg.FFmpegBin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := tail(stderr.String(), 4000)
		return nil, &CompositionError{
			Diag:      diag,
			Transient: isDiskFull(diag),
			Err:       fmt.Errorf("ffmpeg: %w", err),
		}
	}

	return &Result{
		Path:     outPath,
		Duration: TotalDuration(req.Durations, c.cfg.CrossfadeSec),
		Width:    c.cfg.Width,
		Height:   c.cfg.Height,
	}, nil
}

// downloadInputs fetches every remote asset into the work dir, failing fast
// with the offending asset named.
func (c *FFmpegComposer) downloadInputs(ctx context.Context, req *Request, workDir string) (*inputSet, error) {
	in := &inputSet{
		durations:  req.Durations,
		voiceovers: make(map[int]string),
	}

	for i, url := range req.SceneURLs {
		path := filepath.Join(workDir, fmt.Sprintf("scene_%02d.mp4", i))
		if err := c.download(ctx, url, path); err != nil {
			return nil, &CompositionError{Asset: url, Err: err}
		}
		in.scenePaths = append(in.scenePaths, path)
	}

	for idx, url := range req.VoiceoverURLs {
		path := filepath.Join(workDir, fmt.Sprintf("voice_%02d.mp3", idx))
		if err := c.download(ctx, url, path); err != nil {
			return nil, &CompositionError{Asset: url, Err: err}
		}
		in.voiceovers[idx] = path
	}

	if req.MusicURL != "" {
		path := filepath.Join(workDir, "music.mp3")
		if err := c.download(ctx, req.MusicURL, path); err != nil {
			return nil, &CompositionError{Asset: req.MusicURL, Err: err}
		}
		in.musicPath = path
	}

	for i, ov := range req.Overlays {
		path := filepath.Join(workDir, fmt.Sprintf("overlay_%02d.png", i))
		if err := c.download(ctx, ov.AssetURL, path); err != nil {
			return nil, &CompositionError{Asset: ov.AssetURL, Err: err}
		}
		in.overlays = append(in.overlays, overlayInput{
			path:   path,
			window: Window{Start: ov.StartTime, End: ov.EndTime},
			x:      ov.X,
			y:      ov.Y,
			width:  ov.Width,
			height: ov.Height,
		})
	}

	return in, nil
}

func (c *FFmpegComposer) download(ctx context.Context, url, path string) error {
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, body)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("asset is empty")
	}
	return nil
}

func isDiskFull(diag string) bool {
	return strings.Contains(diag, "No space left on device")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
