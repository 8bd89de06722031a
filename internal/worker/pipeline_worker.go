package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/adforge/api/internal/orchestrator"
	"github.com/adforge/api/internal/service"
)

// PipelineWorker runs campaign pipeline tasks. Both task types resolve to
// the same orchestrator entry point: the persisted stage decides what work
// remains, which also makes asynq redelivery after a crash safe.
type PipelineWorker struct {
	orchestrator *orchestrator.Orchestrator
}

func NewPipelineWorker(orch *orchestrator.Orchestrator) *PipelineWorker {
	return &PipelineWorker{orchestrator: orch}
}

// ProcessTask handles campaign:generate and campaign:regenerate tasks.
func (w *PipelineWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PipelineTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", t.Type(), err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("%s task without job id", t.Type())
	}

	log.Printf("[Worker] %s job=%s", t.Type(), payload.JobID)
	if err := w.orchestrator.Run(ctx, payload.JobID); err != nil {
		// Returning the error lets asynq retry; the stage machine resumes
		// from the last committed transition.
		log.Printf("[Worker] %s job=%s interrupted: %v", t.Type(), payload.JobID, err)
		return err
	}
	return nil
}
