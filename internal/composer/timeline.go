package composer

// Timeline math for the composed video. Scenes overlap by the crossfade
// duration, so every downstream offset (narration placement, overlay
// windows) is derived from these functions rather than accumulated ad hoc.

// TotalDuration returns the composed length of n scenes joined with
// fixed-duration crossfades: sum(durations) - (n-1)*crossfade.
func TotalDuration(durations []float64, crossfade float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	var total float64
	for _, d := range durations {
		total += d
	}
	return total - float64(len(durations)-1)*crossfade
}

// SceneStartTimes returns the post-crossfade start offset of each scene.
// Scene k starts where the crossfade into it begins: sum of the preceding
// durations minus k crossfades. These offsets double as the xfade filter
// offsets when chaining scenes.
func SceneStartTimes(durations []float64, crossfade float64) []float64 {
	starts := make([]float64, len(durations))
	for i := 1; i < len(durations); i++ {
		starts[i] = starts[i-1] + durations[i-1] - crossfade
	}
	return starts
}

// Window is a half-open [Start, End) interval on the composed timeline.
type Window struct {
	Start float64
	End   float64
}

// ClampWindow clamps an overlay enable window to the composed duration.
// The second return is false when the window falls entirely outside it,
// meaning the overlay contributes nothing to the composition.
func ClampWindow(w Window, total float64) (Window, bool) {
	if w.Start >= total || w.End <= w.Start {
		return Window{}, false
	}
	if w.End > total {
		w.End = total
	}
	return w, true
}

// NarrationOffsets returns, for each narrated scene index, the offset on the
// composed timeline where its voiceover clip starts. Scenes without
// narration simply contribute no clip; the gaps stay silent.
func NarrationOffsets(durations []float64, crossfade float64, narrated []int) map[int]float64 {
	starts := SceneStartTimes(durations, crossfade)
	offsets := make(map[int]float64, len(narrated))
	for _, idx := range narrated {
		if idx >= 0 && idx < len(starts) {
			offsets[idx] = starts[idx]
		}
	}
	return offsets
}
