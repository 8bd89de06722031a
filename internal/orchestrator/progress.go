package orchestrator

import "github.com/adforge/api/internal/model"

// Stage progress bands. The scene-video stage spans its band proportionally
// to completed scenes; every other stage maps to the band's floor.
const (
	progressReferenceImages = 2
	progressStoryline       = 10
	progressSceneVideos     = 20
	progressVoiceovers      = 60
	progressMusic           = 75
	progressCompositing     = 85
)

// Progress derives the percent complete from stage and scene state. It is a
// pure function so retried or resumed work re-derives a consistent value
// instead of accumulating one ad hoc; within a single attempt it never
// regresses because stages only move forward and scenes only complete.
func Progress(stage model.Stage, completedScenes, sceneCount int) int {
	switch stage {
	case model.StageNotStarted:
		return 0
	case model.StageReferenceImages:
		return progressReferenceImages
	case model.StageStoryline:
		return progressStoryline
	case model.StageSceneVideos:
		if sceneCount <= 0 {
			return progressSceneVideos
		}
		span := progressVoiceovers - progressSceneVideos
		return progressSceneVideos + span*completedScenes/sceneCount
	case model.StageVoiceovers:
		return progressVoiceovers
	case model.StageMusic:
		return progressMusic
	case model.StageCompositing, model.StageRegeneratingScene:
		return progressCompositing
	case model.StageComplete:
		return 100
	default:
		return 0
	}
}
