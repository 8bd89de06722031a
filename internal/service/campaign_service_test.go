package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/api/internal/model"
	"github.com/adforge/api/internal/store"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func testStartRequest() *model.GenerateStartRequest {
	return &model.GenerateStartRequest{
		BrandID: "0c2a2f3e-7b8a-4a1e-9a64-58c4a6c0a111",
		Brief: model.BriefRequest{
			ProductName: "Solara Lamp",
			Description: "A solar-powered reading lamp for travelers",
			Tone:        model.ToneMinimal,
			SceneCount:  3,
		},
	}
}

func TestStartGeneration(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	enq := &fakeEnqueuer{}
	svc := NewCampaignService(s, enq)

	resp, err := svc.StartGeneration(ctx, testStartRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, model.StageNotStarted, resp.Stage)

	job, err := s.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "Solara Lamp", job.Brief.ProductName)
	assert.Equal(t, 3, job.SceneCount)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypeGenerate, enq.tasks[0].Type())
	var payload PipelineTaskPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, resp.JobID, payload.JobID)
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewCampaignService(s, &fakeEnqueuer{})

	_, err := svc.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, s.Create(ctx, &model.Job{
		ID:       "j1",
		Stage:    model.StageSceneVideos,
		Progress: 40,
		Scenes: []model.SceneJob{
			{Index: 0, Status: model.SceneStatusSucceeded, Attempts: 1},
			{Index: 1, Status: model.SceneStatusGenerating, Attempts: 2},
		},
		CreatedAt: time.Now(),
	}))

	status, err := svc.GetStatus(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.StageSceneVideos, status.Stage)
	assert.Equal(t, 40, status.Progress)
	require.Len(t, status.Scenes, 2)
	assert.Equal(t, 2, status.Scenes[1].Attempts)
}

func TestGetResult(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewCampaignService(s, &fakeEnqueuer{})

	require.NoError(t, s.Create(ctx, &model.Job{
		ID:    "running",
		Stage: model.StageMusic,
	}))
	_, err := svc.GetResult(ctx, "running")
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	now := time.Now()
	require.NoError(t, s.Create(ctx, &model.Job{
		ID:            "done",
		Stage:         model.StageComplete,
		FinalAssetURL: "https://cdn.test/final.mp4",
		FinalDuration: 16,
		MusicURL:      "https://cdn.test/music.mp3",
		Scenes: []model.SceneJob{
			{Index: 0, Status: model.SceneStatusSucceeded, AssetURL: "https://cdn.test/s0.mp4"},
			{Index: 1, Status: model.SceneStatusFailed},
			{Index: 2, Status: model.SceneStatusSucceeded, AssetURL: "https://cdn.test/s2.mp4"},
		},
		CompletedAt: &now,
	}))

	result, err := svc.GetResult(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/final.mp4", result.FinalAssetURL)
	assert.InDelta(t, 16.0, result.Duration, 1e-9)
	assert.Equal(t, []string{"https://cdn.test/s0.mp4", "https://cdn.test/s2.mp4"}, result.SceneURLs)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewCampaignService(s, &fakeEnqueuer{})

	_, err := svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, s.Create(ctx, &model.Job{ID: "running", Stage: model.StageSceneVideos}))
	resp, err := svc.Cancel(ctx, "running")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	job, err := s.Get(ctx, "running")
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	require.NoError(t, s.Create(ctx, &model.Job{ID: "done", Stage: model.StageComplete}))
	_, err = svc.Cancel(ctx, "done")
	assert.ErrorIs(t, err, ErrJobFinished)
}

func TestRegenerateScene(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	enq := &fakeEnqueuer{}
	svc := NewCampaignService(s, enq)

	scenes := []model.SceneJob{
		{Index: 0, Status: model.SceneStatusSucceeded, Prompt: "p0", AssetURL: "https://cdn.test/s0.mp4", Attempts: 1},
		{Index: 1, Status: model.SceneStatusSucceeded, Prompt: "p1", AssetURL: "https://cdn.test/s1.mp4", Attempts: 1},
	}
	require.NoError(t, s.Create(ctx, &model.Job{
		ID:         "done",
		Stage:      model.StageComplete,
		Scenes:     scenes,
		SceneCount: 2,
	}))

	req := &model.RegenerateSceneRequest{Prompt: "a brighter close-up of the lamp"}

	// Running jobs cannot be partially regenerated.
	require.NoError(t, s.Create(ctx, &model.Job{ID: "running", Stage: model.StageVoiceovers, Scenes: scenes}))
	_, err := svc.RegenerateScene(ctx, "running", 0, req)
	assert.ErrorIs(t, err, ErrJobRunning)

	// Even when the target scene already succeeded, a job still generating
	// scenes is rejected: the in-flight worker owns the scene state.
	require.NoError(t, s.Create(ctx, &model.Job{ID: "midrun", Stage: model.StageSceneVideos, Scenes: scenes}))
	_, err = svc.RegenerateScene(ctx, "midrun", 0, req)
	assert.ErrorIs(t, err, ErrJobRunning)

	_, err = svc.RegenerateScene(ctx, "done", 7, req)
	assert.ErrorIs(t, err, ErrSceneIndex)

	resp, err := svc.RegenerateScene(ctx, "done", 1, req)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.SceneIndex)
	assert.Equal(t, model.StageRegeneratingScene, resp.Stage)

	job, err := s.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.StageRegeneratingScene, job.Stage)
	require.NotNil(t, job.RegenSceneIndex)
	assert.Equal(t, 1, *job.RegenSceneIndex)
	assert.Equal(t, model.SceneStatusPending, job.Scenes[1].Status)
	assert.Equal(t, "a brighter close-up of the lamp", job.Scenes[1].Prompt)
	assert.Empty(t, job.Scenes[1].AssetURL)
	// The untouched scene keeps its asset.
	assert.Equal(t, "https://cdn.test/s0.mp4", job.Scenes[0].AssetURL)

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypeRegenerate, enq.tasks[0].Type())
}
