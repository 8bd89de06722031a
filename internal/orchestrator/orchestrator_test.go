package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/api/internal/client"
	"github.com/adforge/api/internal/composer"
	"github.com/adforge/api/internal/config"
	"github.com/adforge/api/internal/model"
	"github.com/adforge/api/internal/store"
)

// --- fakes ---

type fakeImages struct {
	mu    sync.Mutex
	calls int
	err   func(call int) error
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		if err := f.err(f.calls); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("https://cdn.test/img-%d.png", f.calls), nil
}

type fakeStoryline struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStoryline) GenerateStoryline(ctx context.Context, brief *model.Brief) (*model.Storyline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	scenes := make([]model.ScenePlan, brief.SceneCount)
	for i := range scenes {
		scenes[i] = model.ScenePlan{
			Duration:     6,
			VisualPrompt: fmt.Sprintf("scene-%d-prompt", i),
		}
		if i%2 == 0 {
			scenes[i].Narration = fmt.Sprintf("narration for scene %d", i)
		}
	}
	return &model.Storyline{Scenes: scenes, MusicHint: "upbeat electronic"}, nil
}

type videoCall struct {
	prompt string
	ref    string
}

type fakeVideo struct {
	mu    sync.Mutex
	calls []videoCall
	err   func(prompt string) error
}

func (f *fakeVideo) GenerateVideo(ctx context.Context, prompt, continuityRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, videoCall{prompt: prompt, ref: continuityRef})
	if f.err != nil {
		if err := f.err(prompt); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("https://cdn.test/%s.mp4", prompt), nil
}

func (f *fakeVideo) callsFor(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.prompt == prompt {
			n++
		}
	}
	return n
}

type fakeSpeech struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSpeech) GenerateSpeech(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("https://cdn.test/vo-%d.mp3", f.calls), nil
}

type fakeMusic struct {
	mu       sync.Mutex
	calls    int
	prompt   string
	duration float64
}

func (f *fakeMusic) GenerateMusic(ctx context.Context, prompt string, duration float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompt = prompt
	f.duration = duration
	return "https://cdn.test/music.mp3", nil
}

type fakeComposer struct {
	mu       sync.Mutex
	dir      string
	requests []*composer.Request
}

func (f *fakeComposer) Compose(ctx context.Context, req *composer.Request) (*composer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	path := filepath.Join(f.dir, fmt.Sprintf("final-%d.mp4", len(f.requests)))
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	return &composer.Result{
		Path:     path,
		Duration: composer.TotalDuration(req.Durations, 1.0),
	}, nil
}

type fakeStorage struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return "https://cdn.test/" + key, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	progress []int
	complete int
	errors   []model.JobError
}

func (f *fakeNotifier) NotifyProgress(jobID string, stage model.Stage, progress int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, progress)
}

func (f *fakeNotifier) NotifyComplete(jobID string, result interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complete++
}

func (f *fakeNotifier) NotifyError(jobID string, jobErr model.JobError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, jobErr)
}

// --- harness ---

type pipelineFakes struct {
	images    *fakeImages
	storyline *fakeStoryline
	video     *fakeVideo
	speech    *fakeSpeech
	music     *fakeMusic
	composer  *fakeComposer
	storage   *fakeStorage
	notifier  *fakeNotifier
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxAttempts:        3,
		BackoffBaseMs:      1,
		BackoffMaxMs:       2,
		ReferenceImages:    3,
		ReferenceImageMin:  2,
		FanoutConcurrency:  2,
		SceneFailurePolicy: "fail_job",
	}
}

func newTestOrchestrator(t *testing.T, jobStore store.Store, cfg config.PipelineConfig) (*Orchestrator, *pipelineFakes) {
	t.Helper()
	fakes := &pipelineFakes{
		images:    &fakeImages{},
		storyline: &fakeStoryline{},
		video:     &fakeVideo{},
		speech:    &fakeSpeech{},
		music:     &fakeMusic{},
		composer:  &fakeComposer{dir: t.TempDir()},
		storage:   &fakeStorage{},
		notifier:  &fakeNotifier{},
	}
	orch := New(jobStore, Clients{
		Images:    fakes.images,
		Storyline: fakes.storyline,
		Video:     fakes.video,
		Speech:    fakes.speech,
		Music:     fakes.music,
	}, fakes.composer, fakes.storage, fakes.notifier, cfg)
	return orch, fakes
}

func createJob(t *testing.T, s store.Store, job *model.Job) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), job))
}

func getJob(t *testing.T, s store.Store, id string) *model.Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func newJob(id string, sceneCount int) *model.Job {
	return &model.Job{
		ID:      id,
		BrandID: "brand-1",
		Stage:   model.StageNotStarted,
		Brief: model.Brief{
			ProductName: "Solara Lamp",
			Description: "A solar-powered reading lamp for travelers",
			Tone:        model.ToneMinimal,
			SceneCount:  sceneCount,
		},
		SceneCount: sceneCount,
		CreatedAt:  time.Now(),
	}
}

// --- tests ---

func TestRunHappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	createJob(t, s, newJob("j1", 3))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, job.Stage)
	assert.Equal(t, 100, job.Progress)
	assert.NotEmpty(t, job.FinalAssetURL)
	assert.InDelta(t, 16.0, job.FinalDuration, 1e-9) // 3*6s - 2*1s crossfade
	assert.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.Error)

	assert.Equal(t, 3, fakes.images.calls)
	assert.Equal(t, 1, fakes.storyline.calls)
	assert.Len(t, fakes.video.calls, 3)
	assert.Equal(t, 2, fakes.speech.calls) // scenes 0 and 2 narrated
	assert.Equal(t, 1, fakes.music.calls)
	require.Len(t, fakes.composer.requests, 1)
	assert.Equal(t, []string{"campaigns/j1/final.mp4"}, fakes.storage.keys)
	assert.Equal(t, 1, fakes.notifier.complete)

	// Music sized to the summed raw scene length.
	assert.InDelta(t, 18.0, fakes.music.duration, 1e-9)
	assert.Contains(t, fakes.music.prompt, "upbeat electronic")
}

func TestRunProgressMonotonic(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	createJob(t, s, newJob("j1", 4))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	require.NotEmpty(t, fakes.notifier.progress)
	for i := 1; i < len(fakes.notifier.progress); i++ {
		assert.GreaterOrEqual(t, fakes.notifier.progress[i], fakes.notifier.progress[i-1],
			"progress regressed: %v", fakes.notifier.progress)
	}
	assert.Equal(t, 100, fakes.notifier.progress[len(fakes.notifier.progress)-1])
}

func TestRunSequentialContinuity(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	createJob(t, s, newJob("j1", 3))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	job := getJob(t, s, "j1")
	require.Len(t, fakes.video.calls, 3)

	// Scene 0 is conditioned on the first reference image; every later
	// scene on its predecessor's generated asset.
	assert.Equal(t, job.ReferenceImageURLs[0], fakes.video.calls[0].ref)
	assert.Equal(t, job.Scenes[0].AssetURL, fakes.video.calls[1].ref)
	assert.Equal(t, job.Scenes[1].AssetURL, fakes.video.calls[2].ref)

	// Order is strictly by scene index.
	for i, call := range fakes.video.calls {
		assert.Equal(t, fmt.Sprintf("scene-%d-prompt", i), call.prompt)
	}
}

func TestRunSceneRetriesBounded(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testPipelineConfig()
	orch, fakes := newTestOrchestrator(t, s, cfg)
	fakes.video.err = func(prompt string) error {
		if prompt == "scene-1-prompt" {
			return &client.RemoteError{Service: "video", Op: "generate", Status: 503, Transient: true}
		}
		return nil
	}
	createJob(t, s, newJob("j1", 3))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	assert.Equal(t, cfg.MaxAttempts, fakes.video.callsFor("scene-1-prompt"))
	// Scene 2 never started: generation is sequential.
	assert.Equal(t, 0, fakes.video.callsFor("scene-2-prompt"))

	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageFailed, job.Stage)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.StageSceneVideos, job.Error.Stage)
	require.NotNil(t, job.Error.SceneIndex)
	assert.Equal(t, 1, *job.Error.SceneIndex)
	assert.Equal(t, model.ErrCodeRemoteTransient, job.Error.Code)
	assert.True(t, job.Error.Retriable)
	assert.Equal(t, cfg.MaxAttempts, job.Scenes[1].Attempts)
}

func TestRunPermanentErrorFailsFast(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	fakes.video.err = func(prompt string) error {
		if prompt == "scene-0-prompt" {
			return &client.RemoteError{Service: "video", Op: "generate", Status: 400, Transient: false}
		}
		return nil
	}
	createJob(t, s, newJob("j1", 2))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	assert.Equal(t, 1, fakes.video.callsFor("scene-0-prompt"))
	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageFailed, job.Stage)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.ErrCodeRemotePermanent, job.Error.Code)
	assert.False(t, job.Error.Retriable)
}

func TestRunResumesFromPersistedState(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())

	// A job that crashed mid scene generation: two scenes done, one pending.
	job := newJob("j1", 3)
	job.Stage = model.StageSceneVideos
	job.ReferenceImageURLs = []string{"https://cdn.test/ref.png"}
	job.MusicHint = "ambient"
	job.Scenes = []model.SceneJob{
		{Index: 0, Status: model.SceneStatusSucceeded, Prompt: "scene-0-prompt", Narration: "n0", Duration: 6, AssetURL: "https://cdn.test/s0.mp4", Attempts: 1},
		{Index: 1, Status: model.SceneStatusSucceeded, Prompt: "scene-1-prompt", Duration: 6, AssetURL: "https://cdn.test/s1.mp4", Attempts: 1},
		{Index: 2, Status: model.SceneStatusPending, Prompt: "scene-2-prompt", Narration: "n2", Duration: 6},
	}
	createJob(t, s, job)

	require.NoError(t, orch.Run(context.Background(), "j1"))

	// Earlier stages are not redone, and finished scenes are not regenerated.
	assert.Equal(t, 0, fakes.images.calls)
	assert.Equal(t, 0, fakes.storyline.calls)
	require.Len(t, fakes.video.calls, 1)
	assert.Equal(t, "scene-2-prompt", fakes.video.calls[0].prompt)
	assert.Equal(t, "https://cdn.test/s1.mp4", fakes.video.calls[0].ref)

	got := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, got.Stage)
	assert.Equal(t, "https://cdn.test/s0.mp4", got.Scenes[0].AssetURL)
	assert.Equal(t, "https://cdn.test/s1.mp4", got.Scenes[1].AssetURL)
}

func TestRunSceneRegenerationIsolated(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())

	idx := 1
	job := newJob("j1", 3)
	job.Stage = model.StageRegeneratingScene
	job.RegenSceneIndex = &idx
	job.ReferenceImageURLs = []string{"https://cdn.test/ref.png"}
	job.Scenes = []model.SceneJob{
		{Index: 0, Status: model.SceneStatusSucceeded, Prompt: "scene-0-prompt", Duration: 6, AssetURL: "https://cdn.test/s0.mp4"},
		{Index: 1, Status: model.SceneStatusPending, Prompt: "fresh-prompt", Duration: 6},
		{Index: 2, Status: model.SceneStatusSucceeded, Prompt: "scene-2-prompt", Duration: 6, AssetURL: "https://cdn.test/s2.mp4"},
	}
	job.VoiceoverURLs = map[int]string{0: "https://cdn.test/vo0.mp3"}
	job.MusicURL = "https://cdn.test/music.mp3"
	job.FinalAssetURL = "https://cdn.test/old-final.mp4"
	createJob(t, s, job)

	require.NoError(t, orch.Run(context.Background(), "j1"))

	// Exactly one video call, with the original continuity input.
	require.Len(t, fakes.video.calls, 1)
	assert.Equal(t, "fresh-prompt", fakes.video.calls[0].prompt)
	assert.Equal(t, "https://cdn.test/s0.mp4", fakes.video.calls[0].ref)

	// Voiceovers and music are reused, not regenerated.
	assert.Equal(t, 0, fakes.speech.calls)
	assert.Equal(t, 0, fakes.music.calls)
	require.Len(t, fakes.composer.requests, 1)

	got := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, got.Stage)
	assert.Nil(t, got.RegenSceneIndex)
	assert.Equal(t, "https://cdn.test/s0.mp4", got.Scenes[0].AssetURL)
	assert.Equal(t, "https://cdn.test/s2.mp4", got.Scenes[2].AssetURL)
	assert.NotEqual(t, "https://cdn.test/old-final.mp4", got.FinalAssetURL)

	// The recompose used all three scenes including the regenerated one.
	assert.Len(t, fakes.composer.requests[0].SceneURLs, 3)
	assert.Equal(t, got.Scenes[1].AssetURL, fakes.composer.requests[0].SceneURLs[1])
}

func TestRunReferenceImageMinimumViable(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	// Two of three image generations fail permanently: below the minimum.
	fakes.images.err = func(call int) error {
		if call <= 2 {
			return &client.RemoteError{Service: "images", Op: "generate", Status: 400, Transient: false}
		}
		return nil
	}
	createJob(t, s, newJob("j1", 3))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageFailed, job.Stage)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.StageReferenceImages, job.Error.Stage)
	assert.Equal(t, 0, fakes.storyline.calls)
}

func TestRunReferenceImagePartialFailureTolerated(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	// One of three fails: still at or above the minimum of two.
	failed := false
	var mu sync.Mutex
	fakes.images.err = func(call int) error {
		mu.Lock()
		defer mu.Unlock()
		if !failed {
			failed = true
			return &client.RemoteError{Service: "images", Op: "generate", Status: 400, Transient: false}
		}
		return nil
	}
	createJob(t, s, newJob("j1", 2))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, job.Stage)
	assert.Len(t, job.ReferenceImageURLs, 2)
}

func TestRunBrandImageCacheSkipsGeneration(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())
	require.NoError(t, s.SetBrandImages(context.Background(), "brand-1",
		[]string{"https://cdn.test/cached-1.png", "https://cdn.test/cached-2.png"}))
	createJob(t, s, newJob("j1", 2))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	assert.Equal(t, 0, fakes.images.calls)
	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, job.Stage)
	assert.Equal(t, []string{"https://cdn.test/cached-1.png", "https://cdn.test/cached-2.png"}, job.ReferenceImageURLs)
	assert.Equal(t, "https://cdn.test/cached-1.png", fakes.video.calls[0].ref)
}

func TestRunCancellationObservedAtStageBoundary(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())

	job := newJob("j1", 2)
	job.Stage = model.StageSceneVideos
	job.CancelRequested = true
	job.ReferenceImageURLs = []string{"https://cdn.test/ref.png"}
	job.Scenes = []model.SceneJob{
		{Index: 0, Status: model.SceneStatusPending, Prompt: "scene-0-prompt", Duration: 6},
		{Index: 1, Status: model.SceneStatusPending, Prompt: "scene-1-prompt", Duration: 6},
	}
	createJob(t, s, job)

	require.NoError(t, orch.Run(context.Background(), "j1"))

	assert.Empty(t, fakes.video.calls)
	got := getJob(t, s, "j1")
	assert.Equal(t, model.StageFailed, got.Stage)
	require.NotNil(t, got.Error)
	assert.Equal(t, model.ErrCodeCancelled, got.Error.Code)
	require.Len(t, fakes.notifier.errors, 1)
	assert.Equal(t, model.ErrCodeCancelled, fakes.notifier.errors[0].Code)
}

func TestRunTerminalJobIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	orch, fakes := newTestOrchestrator(t, s, testPipelineConfig())

	job := newJob("j1", 2)
	job.Stage = model.StageComplete
	createJob(t, s, job)

	require.NoError(t, orch.Run(context.Background(), "j1"))
	assert.Equal(t, 0, fakes.images.calls)
	assert.Equal(t, 0, fakes.storyline.calls)
	assert.Empty(t, fakes.video.calls)
}

func TestRunDegradePolicyDropsFailedScene(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testPipelineConfig()
	cfg.SceneFailurePolicy = "degrade"
	orch, fakes := newTestOrchestrator(t, s, cfg)
	fakes.video.err = func(prompt string) error {
		if prompt == "scene-1-prompt" {
			return &client.RemoteError{Service: "video", Op: "generate", Status: 503, Transient: true}
		}
		return nil
	}
	createJob(t, s, newJob("j1", 3))

	require.NoError(t, orch.Run(context.Background(), "j1"))

	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, job.Stage)
	assert.Equal(t, model.SceneStatusFailed, job.Scenes[1].Status)

	// Composed from the two surviving scenes only.
	require.Len(t, fakes.composer.requests, 1)
	assert.Len(t, fakes.composer.requests[0].SceneURLs, 2)
	assert.InDelta(t, 11.0, job.FinalDuration, 1e-9) // 2*6s - 1s crossfade
}

func TestRunVoiceoversSkipFailedScenes(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := testPipelineConfig()
	cfg.SceneFailurePolicy = "degrade"
	orch, fakes := newTestOrchestrator(t, s, cfg)

	// Scene 1 was dropped during generation but still carries narration; no
	// voiceover should be paid for since compositing will never use it.
	job := newJob("j1", 3)
	job.Stage = model.StageVoiceovers
	job.ReferenceImageURLs = []string{"https://cdn.test/ref.png"}
	job.MusicHint = "ambient"
	job.Scenes = []model.SceneJob{
		{Index: 0, Status: model.SceneStatusSucceeded, Prompt: "scene-0-prompt", Narration: "n0", Duration: 6, AssetURL: "https://cdn.test/s0.mp4"},
		{Index: 1, Status: model.SceneStatusFailed, Prompt: "scene-1-prompt", Narration: "n1", Duration: 6, LastError: "generation failed"},
		{Index: 2, Status: model.SceneStatusSucceeded, Prompt: "scene-2-prompt", Duration: 6, AssetURL: "https://cdn.test/s2.mp4"},
	}
	createJob(t, s, job)

	require.NoError(t, orch.Run(context.Background(), "j1"))

	assert.Equal(t, 1, fakes.speech.calls)
	got := getJob(t, s, "j1")
	assert.Equal(t, model.StageComplete, got.Stage)
	require.Len(t, got.VoiceoverURLs, 1)
	assert.Contains(t, got.VoiceoverURLs, 0)
}

func TestRunWorkerShutdownLeavesJobResumable(t *testing.T) {
	s := store.NewMemoryStore()
	orch, _ := newTestOrchestrator(t, s, testPipelineConfig())
	createJob(t, s, newJob("j1", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := orch.Run(ctx, "j1")
	require.Error(t, err)

	// The job is untouched: a later run starts from the persisted stage.
	job := getJob(t, s, "j1")
	assert.Equal(t, model.StageNotStarted, job.Stage)
	assert.Nil(t, job.Error)
}
