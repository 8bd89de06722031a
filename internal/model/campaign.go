package model

import "time"

// GenerateStartRequest starts a campaign generation job
type GenerateStartRequest struct {
	BrandID string       `json:"brandId" validate:"required,uuid4"`
	Brief   BriefRequest `json:"brief" validate:"required"`
}

// BriefRequest is the validated wire form of a Brief
type BriefRequest struct {
	ProductName   string   `json:"productName" validate:"required,min=2,max=120"`
	Description   string   `json:"description" validate:"required,min=10,max=2000"`
	Tone          Tone     `json:"tone" validate:"required,oneof=playful luxury bold minimal professional"`
	CallToAction  string   `json:"callToAction,omitempty" validate:"omitempty,max=120"`
	SceneCount    int      `json:"sceneCount" validate:"required,min=1,max=10"`
	UserAssetURLs []string `json:"userAssetUrls,omitempty" validate:"omitempty,dive,url"`
}

// Brief converts the wire form into the stored Brief.
func (r *BriefRequest) Brief() Brief {
	return Brief{
		ProductName:   r.ProductName,
		Description:   r.Description,
		Tone:          r.Tone,
		CallToAction:  r.CallToAction,
		SceneCount:    r.SceneCount,
		UserAssetURLs: r.UserAssetURLs,
	}
}

// GenerateStartResponse is returned when a job is accepted
type GenerateStartResponse struct {
	JobID     string    `json:"jobId"`
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusResponse is the polled progress view of a job
type StatusResponse struct {
	JobID       string       `json:"jobId"`
	Stage       Stage        `json:"stage"`
	Progress    int          `json:"progress"`
	Scenes      []SceneState `json:"scenes,omitempty"`
	Error       *JobError    `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// SceneState is the per-scene sub-status exposed to pollers
type SceneState struct {
	Index    int         `json:"index"`
	Status   SceneStatus `json:"status"`
	Attempts int         `json:"attempts"`
}

// ResultResponse is the final asset record of a completed job
type ResultResponse struct {
	JobID         string         `json:"jobId"`
	FinalAssetURL string         `json:"finalAssetUrl"`
	Duration      float64        `json:"duration"`
	SceneURLs     []string       `json:"sceneUrls"`
	VoiceoverURLs map[int]string `json:"voiceoverUrls,omitempty"`
	MusicURL      string         `json:"musicUrl,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// RegenerateSceneRequest replaces one scene of a finished job
type RegenerateSceneRequest struct {
	Prompt string `json:"prompt" validate:"required,min=5,max=2000"`
}

// RegenerateSceneResponse acknowledges a queued regeneration
type RegenerateSceneResponse struct {
	JobID      string `json:"jobId"`
	SceneIndex int    `json:"sceneIndex"`
	Stage      Stage  `json:"stage"`
}

// CancelResponse acknowledges a cancellation request
type CancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Stage   Stage  `json:"stage"`
}
