package model

// Stage is a step in the campaign generation state machine.
type Stage string

const (
	StageNotStarted        Stage = "not_started"
	StageReferenceImages   Stage = "reference_images"
	StageStoryline         Stage = "storyline"
	StageSceneVideos       Stage = "scene_videos"
	StageVoiceovers        Stage = "voiceovers"
	StageMusic             Stage = "music"
	StageCompositing       Stage = "compositing"
	StageRegeneratingScene Stage = "regenerating_scene"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

// Terminal reports whether no further stage may run after s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// SceneStatus tracks one scene's generation lifecycle.
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusGenerating SceneStatus = "generating"
	SceneStatusSucceeded  SceneStatus = "succeeded"
	SceneStatusFailed     SceneStatus = "failed"
)

// Error codes attached to a terminal JobError
const (
	ErrCodeRemoteTransient = "remote_transient"
	ErrCodeRemotePermanent = "remote_permanent"
	ErrCodeComposition     = "composition"
	ErrCodeCancelled       = "cancelled"
	ErrCodeValidation      = "validation"
	ErrCodeInternal        = "internal"
)

// Ad tones accepted in a campaign brief
type Tone string

const (
	TonePlayful      Tone = "playful"
	ToneLuxury       Tone = "luxury"
	ToneBold         Tone = "bold"
	ToneMinimal      Tone = "minimal"
	ToneProfessional Tone = "professional"
)

var ValidTones = []Tone{
	TonePlayful, ToneLuxury, ToneBold, ToneMinimal, ToneProfessional,
}

// SceneFailurePolicy controls what happens to the job when a scene
// exhausts its retries.
type SceneFailurePolicy string

const (
	// SceneFailurePolicyFailJob fails the whole job so the caller can
	// regenerate the one bad scene instead of shipping a short video.
	SceneFailurePolicyFailJob SceneFailurePolicy = "fail_job"
	// SceneFailurePolicyDegrade drops the failed scene and composes the rest.
	SceneFailurePolicyDegrade SceneFailurePolicy = "degrade"
)
