package model

import "time"

// Job is the durable record of one campaign generation run. It is mutated
// only by the pipeline orchestrator; the HTTP layer reads it through the
// status/result endpoints.
type Job struct {
	ID                 string         `json:"id"`
	BrandID            string         `json:"brandId"`
	Stage              Stage          `json:"stage"`
	Progress           int            `json:"progress"`
	Brief              Brief          `json:"brief"`
	SceneCount         int            `json:"sceneCount"`
	Scenes             []SceneJob     `json:"scenes,omitempty"`
	Overlays           []Overlay      `json:"overlays,omitempty"`
	ReferenceImageURLs []string       `json:"referenceImageUrls,omitempty"`
	VoiceoverURLs      map[int]string `json:"voiceoverUrls,omitempty"`
	MusicHint          string         `json:"musicHint,omitempty"`
	MusicURL           string         `json:"musicUrl,omitempty"`
	FinalAssetURL      string         `json:"finalAssetUrl,omitempty"`
	FinalDuration      float64        `json:"finalDuration,omitempty"`
	Error              *JobError      `json:"error,omitempty"`
	CancelRequested    bool           `json:"cancelRequested,omitempty"`
	RegenSceneIndex    *int           `json:"regenSceneIndex,omitempty"`
	Version            int64          `json:"version"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
}

// SceneJob is one scene's generation record. Index is fixed at creation;
// everything else is owned by the scene-video stage.
type SceneJob struct {
	Index     int         `json:"index"`
	Status    SceneStatus `json:"status"`
	Prompt    string      `json:"prompt"`
	Narration string      `json:"narration,omitempty"`
	Duration  float64     `json:"duration"`
	AssetURL  string      `json:"assetUrl,omitempty"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
}

// JobError records why a job reached the failed stage.
type JobError struct {
	Stage      Stage  `json:"stage"`
	SceneIndex *int   `json:"sceneIndex,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retriable  bool   `json:"retriable"`
}

// Brief is the user-supplied campaign input the pipeline works from.
type Brief struct {
	ProductName   string   `json:"productName"`
	Description   string   `json:"description"`
	Tone          Tone     `json:"tone"`
	CallToAction  string   `json:"callToAction,omitempty"`
	SceneCount    int      `json:"sceneCount"`
	UserAssetURLs []string `json:"userAssetUrls,omitempty"`
}

// Storyline is the structured script produced by the storyline stage.
type Storyline struct {
	Scenes    []ScenePlan `json:"scenes"`
	Overlays  []Overlay   `json:"overlays,omitempty"`
	MusicHint string      `json:"musicHint,omitempty"`
}

// ScenePlan describes one scene of the storyline before generation starts.
type ScenePlan struct {
	Duration     float64 `json:"duration"`
	VisualPrompt string  `json:"visualPrompt"`
	Narration    string  `json:"narration,omitempty"`
}

// Overlay is a timed visual compositing directive (brand name, CTA card).
// The overlay is visible during [StartTime, EndTime).
type Overlay struct {
	AssetURL  string  `json:"assetUrl"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// CompletedScenes counts scenes that have reached succeeded.
func (j *Job) CompletedScenes() int {
	n := 0
	for _, s := range j.Scenes {
		if s.Status == SceneStatusSucceeded {
			n++
		}
	}
	return n
}

// SceneDurations returns the per-scene durations in order.
func (j *Job) SceneDurations() []float64 {
	durations := make([]float64, len(j.Scenes))
	for i, s := range j.Scenes {
		durations[i] = s.Duration
	}
	return durations
}

// TotalSceneDuration is the summed raw scene length, before crossfades.
func (j *Job) TotalSceneDuration() float64 {
	var total float64
	for _, s := range j.Scenes {
		total += s.Duration
	}
	return total
}
