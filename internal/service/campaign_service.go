package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adforge/api/internal/model"
	"github.com/adforge/api/internal/orchestrator"
	"github.com/adforge/api/internal/store"
)

const (
	TaskTypeGenerate   = "campaign:generate"
	TaskTypeRegenerate = "campaign:regenerate"

	// QueuePipeline is the asynq queue all campaign work runs on.
	QueuePipeline = "pipeline"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobFinished     = errors.New("job already finished")
	ErrJobRunning      = errors.New("job still running")
	ErrSceneIndex      = errors.New("scene index out of range")
)

// PipelineTaskPayload is the asynq payload for both generation task types.
// The job record in the store is the source of truth; the task only names it.
type PipelineTaskPayload struct {
	JobID string `json:"jobId"`
}

// TaskEnqueuer is the slice of asynq.Client the service needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CampaignService manages campaign generation jobs: it creates and queries
// job records and queues pipeline tasks. The pipeline itself runs in the
// worker process.
type CampaignService struct {
	store    store.Store
	enqueuer TaskEnqueuer
}

func NewCampaignService(jobStore store.Store, enqueuer TaskEnqueuer) *CampaignService {
	return &CampaignService{
		store:    jobStore,
		enqueuer: enqueuer,
	}
}

// StartGeneration creates a job record and queues the pipeline task.
func (s *CampaignService) StartGeneration(ctx context.Context, req *model.GenerateStartRequest) (*model.GenerateStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:         jobID,
		BrandID:    req.BrandID,
		Stage:      model.StageNotStarted,
		Brief:      req.Brief.Brief(),
		SceneCount: req.Brief.SceneCount,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.enqueue(ctx, TaskTypeGenerate, jobID); err != nil {
		return nil, fmt.Errorf("enqueue pipeline task: %w", err)
	}

	return &model.GenerateStartResponse{
		JobID:     jobID,
		Stage:     job.Stage,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the polled progress view of a job.
func (s *CampaignService) GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var scenes []model.SceneState
	for _, sc := range job.Scenes {
		scenes = append(scenes, model.SceneState{
			Index:    sc.Index,
			Status:   sc.Status,
			Attempts: sc.Attempts,
		})
	}

	return &model.StatusResponse{
		JobID:       job.ID,
		Stage:       job.Stage,
		Progress:    job.Progress,
		Scenes:      scenes,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the final asset record of a completed job.
func (s *CampaignService) GetResult(ctx context.Context, jobID string) (*model.ResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Stage != model.StageComplete {
		return nil, ErrJobNotCompleted
	}

	var sceneURLs []string
	for _, sc := range job.Scenes {
		if sc.Status == model.SceneStatusSucceeded {
			sceneURLs = append(sceneURLs, sc.AssetURL)
		}
	}

	return &model.ResultResponse{
		JobID:         job.ID,
		FinalAssetURL: job.FinalAssetURL,
		Duration:      job.FinalDuration,
		SceneURLs:     sceneURLs,
		VoiceoverURLs: job.VoiceoverURLs,
		MusicURL:      job.MusicURL,
		CompletedAt:   job.CompletedAt,
	}, nil
}

// Cancel requests cooperative cancellation of a running job. The pipeline
// observes the flag at its next stage boundary, so in-flight remote work
// finishes before the job stops.
func (s *CampaignService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	job, err := s.store.Update(ctx, jobID, "", func(j *model.Job) error {
		if j.Stage.Terminal() {
			return ErrJobFinished
		}
		j.CancelRequested = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	return &model.CancelResponse{
		Success: true,
		JobID:   jobID,
		Stage:   job.Stage,
	}, nil
}

// RegenerateScene replaces a single scene of a finished job and queues a
// recompose. Only terminal jobs are eligible: regenerating mid-run would
// race the pipeline's own writes.
func (s *CampaignService) RegenerateScene(ctx context.Context, jobID string, sceneIndex int, req *model.RegenerateSceneRequest) (*model.RegenerateSceneResponse, error) {
	_, err := s.store.Update(ctx, jobID, "", func(j *model.Job) error {
		if !j.Stage.Terminal() {
			return ErrJobRunning
		}
		if sceneIndex < 0 || sceneIndex >= len(j.Scenes) {
			return ErrSceneIndex
		}

		scene := &j.Scenes[sceneIndex]
		scene.Status = model.SceneStatusPending
		scene.AssetURL = ""
		scene.Attempts = 0
		scene.LastError = ""
		if req.Prompt != "" {
			scene.Prompt = req.Prompt
		}

		idx := sceneIndex
		j.Stage = model.StageRegeneratingScene
		j.RegenSceneIndex = &idx
		j.Progress = orchestrator.Progress(j.Stage, j.CompletedScenes(), j.SceneCount)
		j.Error = nil
		j.CancelRequested = false
		j.CompletedAt = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	if err := s.enqueue(ctx, TaskTypeRegenerate, jobID); err != nil {
		return nil, fmt.Errorf("enqueue regeneration task: %w", err)
	}

	return &model.RegenerateSceneResponse{
		JobID:      jobID,
		SceneIndex: sceneIndex,
		Stage:      model.StageRegeneratingScene,
	}, nil
}

func (s *CampaignService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *CampaignService) enqueue(ctx context.Context, taskType, jobID string) error {
	data, err := json.Marshal(PipelineTaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskType, data)
	_, err = s.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueuePipeline),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	return err
}
