package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adforge/api/internal/config"
)

// inputSet is the fully-downloaded, local-file form of a compose request.
// Everything needed to build the ffmpeg invocation lives here so the
// command construction is a pure, testable function.
type inputSet struct {
	scenePaths []string
	durations  []float64
	voiceovers map[int]string // scene index -> local path
	musicPath  string
	overlays   []overlayInput
}

type overlayInput struct {
	path          string
	window        Window
	x, y          int
	width, height int
}

// narratedScenes returns voiceover scene indexes in ascending order so the
// ffmpeg input list is deterministic.
func (in *inputSet) narratedScenes() []int {
	idxs := make([]int, 0, len(in.voiceovers))
	for i := range in.voiceovers {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs
}

// buildArgs constructs the complete ffmpeg argument list for one
// composition: scene concat with crossfades, narration aligned to the
// post-crossfade timeline, music bed, timed overlays, and the encode
// profile. Identical inputs always produce identical arguments.
func buildArgs(in *inputSet, cfg *config.ComposerConfig, outPath string) ([]string, error) {
	if len(in.scenePaths) == 0 {
		return nil, fmt.Errorf("no scenes to compose")
	}
	if len(in.scenePaths) != len(in.durations) {
		return nil, fmt.Errorf("have %d scenes but %d durations", len(in.scenePaths), len(in.durations))
	}

	total := TotalDuration(in.durations, cfg.CrossfadeSec)
	starts := SceneStartTimes(in.durations, cfg.CrossfadeSec)
	narrated := in.narratedScenes()

	// Clamp each overlay's window to the composed duration before any input
	// slots are assigned. An overlay whose window misses the timeline is
	// dropped whole, so asset, position, and window always stay paired.
	overlays := make([]overlayInput, 0, len(in.overlays))
	for _, ov := range in.overlays {
		w, ok := ClampWindow(ov.window, total)
		if !ok {
			continue
		}
		ov.window = w
		overlays = append(overlays, ov)
	}

	args := []string{"-y"}
	for _, p := range in.scenePaths {
		args = append(args, "-i", p)
	}
	for _, idx := range narrated {
		args = append(args, "-i", in.voiceovers[idx])
	}
	musicInput := -1
	next := len(in.scenePaths) + len(narrated)
	if in.musicPath != "" {
		args = append(args, "-i", in.musicPath)
		musicInput = next
		next++
	}
	overlayInputs := make([]int, len(overlays))
	for i, ov := range overlays {
		args = append(args, "-i", ov.path)
		overlayInputs[i] = next
		next++
	}

	var fc []string

	// Normalize every scene to the target frame geometry before fading.
	for i := range in.scenePaths {
		fc = append(fc, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d[v%d]",
			i, cfg.Width, cfg.Height, cfg.Width, cfg.Height, cfg.FPS, i,
		))
	}

	// Chain scenes with crossfades. The xfade offset of each join equals
	// the joined scene's start time on the composed timeline.
	cur := "v0"
	for i := 1; i < len(in.scenePaths); i++ {
		out := fmt.Sprintf("xf%d", i)
		fc = append(fc, fmt.Sprintf(
			"[%s][v%d]xfade=transition=fade:duration=%.3f:offset=%.3f[%s]",
			cur, i, cfg.CrossfadeSec, starts[i], out,
		))
		cur = out
	}

	// Timed overlays on top of the faded video.
	for i, ov := range overlays {
		scaled := fmt.Sprintf("ol%d", i)
		out := fmt.Sprintf("ov%d", i)
		fc = append(fc, fmt.Sprintf("[%d:v]scale=%d:%d[%s]", overlayInputs[i], ov.width, ov.height, scaled))
		fc = append(fc, fmt.Sprintf(
			"[%s][%s]overlay=%d:%d:enable='between(t,%.3f,%.3f)'[%s]",
			cur, scaled, ov.x, ov.y, ov.window.Start, ov.window.End, out,
		))
		cur = out
	}

	// Narration: each clip delayed to its scene's composed start offset,
	// then mixed into one continuous track. Unnarrated stretches stay silent.
	audioLabel := ""
	if len(narrated) > 0 {
		labels := make([]string, 0, len(narrated))
		for pos, idx := range narrated {
			inputIdx := len(in.scenePaths) + pos
			delayMs := int(starts[idx] * 1000)
			label := fmt.Sprintf("nd%d", pos)
			fc = append(fc, fmt.Sprintf("[%d:a]adelay=%d|%d[%s]", inputIdx, delayMs, delayMs, label))
			labels = append(labels, "["+label+"]")
		}
		if len(labels) == 1 {
			audioLabel = strings.Trim(labels[0], "[]")
		} else {
			fc = append(fc, fmt.Sprintf("%samix=inputs=%d:normalize=0[nar]", strings.Join(labels, ""), len(labels)))
			audioLabel = "nar"
		}
	}

	// Music plays attenuated under narration, or at full gain alone.
	if musicInput >= 0 {
		gain := cfg.MusicGain
		if audioLabel == "" {
			gain = 1.0
		}
		fc = append(fc, fmt.Sprintf("[%d:a]volume=%.2f[mus]", musicInput, gain))
		if audioLabel == "" {
			audioLabel = "mus"
		} else {
			fc = append(fc, fmt.Sprintf("[%s][mus]amix=inputs=2:duration=longest:normalize=0[aout]", audioLabel))
			audioLabel = "aout"
		}
	}

	args = append(args, "-filter_complex", strings.Join(fc, ";"))
	args = append(args, "-map", "["+cur+"]")
	if audioLabel != "" {
		args = append(args, "-map", "["+audioLabel+"]", "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", cfg.FPS),
		"-t", fmt.Sprintf("%.3f", total),
		"-movflags", "+faststart",
		outPath,
	)

	return args, nil
}
