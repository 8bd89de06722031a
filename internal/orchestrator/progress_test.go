package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adforge/api/internal/model"
)

func TestProgressStageOrder(t *testing.T) {
	sceneCount := 4

	// Walk a full run in order; progress must never decrease.
	var sequence []int
	sequence = append(sequence, Progress(model.StageNotStarted, 0, sceneCount))
	sequence = append(sequence, Progress(model.StageReferenceImages, 0, sceneCount))
	sequence = append(sequence, Progress(model.StageStoryline, 0, sceneCount))
	for done := 0; done <= sceneCount; done++ {
		sequence = append(sequence, Progress(model.StageSceneVideos, done, sceneCount))
	}
	sequence = append(sequence, Progress(model.StageVoiceovers, sceneCount, sceneCount))
	sequence = append(sequence, Progress(model.StageMusic, sceneCount, sceneCount))
	sequence = append(sequence, Progress(model.StageCompositing, sceneCount, sceneCount))
	sequence = append(sequence, Progress(model.StageComplete, sceneCount, sceneCount))

	for i := 1; i < len(sequence); i++ {
		assert.GreaterOrEqual(t, sequence[i], sequence[i-1],
			"progress regressed at step %d: %v", i, sequence)
	}
	assert.Equal(t, 0, sequence[0])
	assert.Equal(t, 100, sequence[len(sequence)-1])
}

func TestProgressSceneProportional(t *testing.T) {
	assert.Equal(t, 20, Progress(model.StageSceneVideos, 0, 4))
	assert.Equal(t, 30, Progress(model.StageSceneVideos, 1, 4))
	assert.Equal(t, 40, Progress(model.StageSceneVideos, 2, 4))
	assert.Equal(t, 60, Progress(model.StageSceneVideos, 4, 4))

	// Zero scene count cannot divide by zero.
	assert.Equal(t, 20, Progress(model.StageSceneVideos, 0, 0))
}

func TestProgressRegeneration(t *testing.T) {
	// Regeneration reports the compositing band; it never rolls the job
	// back to scene-generation percentages.
	assert.Equal(t, Progress(model.StageCompositing, 3, 3), Progress(model.StageRegeneratingScene, 3, 3))
}
