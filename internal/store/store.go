package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/adforge/api/internal/model"
)

var (
	// ErrNotFound is returned when no job record exists for the id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when an optimistic update loses the race or
	// the expected stage no longer matches. The caller must re-read and
	// decide whether its operation still applies.
	ErrConflict = errors.New("job state conflict")
	// ErrExists is returned when creating a job whose id is already taken.
	ErrExists = errors.New("job already exists")
)

// Store is the durable job state record. Every stage transition is committed
// here before the next stage begins so a restarted worker can resume from
// accurate state. Workers may live in different processes, so updates use
// optimistic concurrency rather than in-process locking.
type Store interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)

	// Update re-reads the record, applies the mutation, and writes it back
	// guarded by the record version. A non-empty expectedStage that does not
	// match the persisted stage rejects the update with ErrConflict.
	Update(ctx context.Context, id string, expectedStage model.Stage, apply func(*model.Job) error) (*model.Job, error)

	// Brand-level reference image cache; images are idempotent per brand,
	// not per job.
	GetBrandImages(ctx context.Context, brandID string) ([]string, error)
	SetBrandImages(ctx context.Context, brandID string, urls []string) error
}

// SceneResult is a partial update for one scene slot.
type SceneResult struct {
	Status   model.SceneStatus
	AssetURL string
	Err      string
}

// SetSceneResult records the outcome of one scene generation attempt.
func SetSceneResult(ctx context.Context, s Store, id string, index int, result SceneResult) (*model.Job, error) {
	return s.Update(ctx, id, "", func(job *model.Job) error {
		if index < 0 || index >= len(job.Scenes) {
			return fmt.Errorf("scene index %d out of range (have %d scenes)", index, len(job.Scenes))
		}
		scene := &job.Scenes[index]
		scene.Status = result.Status
		switch result.Status {
		case model.SceneStatusGenerating:
			scene.Attempts++
		case model.SceneStatusSucceeded:
			scene.AssetURL = result.AssetURL
			scene.LastError = ""
		case model.SceneStatusFailed:
			scene.LastError = result.Err
		}
		return nil
	})
}
