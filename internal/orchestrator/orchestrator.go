package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/adforge/api/internal/client"
	"github.com/adforge/api/internal/composer"
	"github.com/adforge/api/internal/config"
	"github.com/adforge/api/internal/model"
	"github.com/adforge/api/internal/store"
)

// errCancelled marks a cooperative cancellation observed at a stage boundary.
var errCancelled = errors.New("job cancelled")

// Clients bundles the generation services the pipeline drives.
type Clients struct {
	Images    client.ImageGenerator
	Storyline client.StorylineGenerator
	Video     client.VideoGenerator
	Speech    client.SpeechGenerator
	Music     client.MusicGenerator
}

// Composer assembles the final video from the generated asset set.
type Composer interface {
	Compose(ctx context.Context, req *composer.Request) (*composer.Result, error)
}

// Notifier pushes job events to connected clients. Implementations must be
// safe for concurrent use; a nil Notifier disables push updates.
type Notifier interface {
	NotifyProgress(jobID string, stage model.Stage, progress int)
	NotifyComplete(jobID string, result interface{})
	NotifyError(jobID string, jobErr model.JobError)
}

// Orchestrator drives a job through the generation stage machine. It is the
// only writer of job records; every transition is committed to the store
// before the next stage begins, so a crashed run resumes from the first
// incomplete unit of work instead of restarting the pipeline.
type Orchestrator struct {
	store    store.Store
	clients  Clients
	composer Composer
	storage  client.StorageClient
	notifier Notifier
	cfg      config.PipelineConfig
	retry    RetryPolicy
}

// New creates an orchestrator with the retry policy derived from cfg
func New(jobStore store.Store, clients Clients, comp Composer, storage client.StorageClient, notifier Notifier, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		store:    jobStore,
		clients:  clients,
		composer: comp,
		storage:  storage,
		notifier: notifier,
		cfg:      cfg,
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		},
	}
}

// sceneFailure carries the scene index alongside the underlying cause so
// the terminal job error can point at the exact failing scene.
type sceneFailure struct {
	Index int
	Err   error
}

func (e *sceneFailure) Error() string {
	return fmt.Sprintf("scene %d: %v", e.Index, e.Err)
}

func (e *sceneFailure) Unwrap() error {
	return e.Err
}

// Run executes the pipeline for jobID from whatever stage is persisted.
// Cancellation is cooperative: it is checked between stages, so an in-flight
// remote call finishes before the job stops. Run returns an error only for
// infrastructure problems; a job failing is a handled, persisted outcome.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	for {
		if err := ctx.Err(); err != nil {
			// Worker shutdown, not a job failure: the persisted stage
			// lets a later run resume.
			return err
		}

		job, err := o.store.Get(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job %s: %w", jobID, err)
		}

		if job.Stage.Terminal() {
			return nil
		}

		if job.CancelRequested {
			return o.failJob(ctx, jobID, job.Stage, nil, errCancelled)
		}

		var stepErr error
		switch job.Stage {
		case model.StageNotStarted:
			stepErr = o.start(ctx, job)
		case model.StageReferenceImages:
			stepErr = o.runReferenceImages(ctx, job)
		case model.StageStoryline:
			stepErr = o.runStoryline(ctx, job)
		case model.StageSceneVideos:
			stepErr = o.runSceneVideos(ctx, job)
		case model.StageVoiceovers:
			stepErr = o.runVoiceovers(ctx, job)
		case model.StageMusic:
			stepErr = o.runMusic(ctx, job)
		case model.StageCompositing:
			stepErr = o.runCompositing(ctx, job)
		case model.StageRegeneratingScene:
			stepErr = o.runSceneRegeneration(ctx, job)
		default:
			return fmt.Errorf("job %s in unknown stage %q", jobID, job.Stage)
		}

		if stepErr != nil {
			if ctx.Err() != nil {
				return stepErr
			}
			var sf *sceneFailure
			sceneIdx := (*int)(nil)
			if errors.As(stepErr, &sf) {
				sceneIdx = &sf.Index
			}
			return o.failJob(ctx, jobID, job.Stage, sceneIdx, stepErr)
		}
	}
}

// advance commits a stage transition guarded by the stage the step ran in.
func (o *Orchestrator) advance(ctx context.Context, jobID string, from, to model.Stage, apply func(*model.Job) error) error {
	job, err := o.store.Update(ctx, jobID, from, func(j *model.Job) error {
		if apply != nil {
			if err := apply(j); err != nil {
				return err
			}
		}
		j.Stage = to
		j.Progress = Progress(to, j.CompletedScenes(), j.SceneCount)
		if to == model.StageComplete {
			now := time.Now()
			j.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance %s from %s to %s: %w", jobID, from, to, err)
	}

	log.Printf("[Pipeline] job=%s stage %s → %s (%d%%)", jobID, from, to, job.Progress)
	if o.notifier != nil {
		o.notifier.NotifyProgress(jobID, job.Stage, job.Progress)
	}
	return nil
}

// start stamps the job as running and decides whether the brand's cached
// reference images let us skip straight to the storyline stage.
func (o *Orchestrator) start(ctx context.Context, job *model.Job) error {
	cached, err := o.store.GetBrandImages(ctx, job.BrandID)
	if err != nil {
		log.Printf("[Pipeline] job=%s brand image cache read failed: %v", job.ID, err)
	}

	target := model.StageReferenceImages
	if len(cached) >= o.cfg.ReferenceImageMin {
		log.Printf("[Pipeline] job=%s reusing %d cached reference images for brand %s", job.ID, len(cached), job.BrandID)
		target = model.StageStoryline
	}

	return o.advance(ctx, job.ID, model.StageNotStarted, target, func(j *model.Job) error {
		now := time.Now()
		j.StartedAt = &now
		if target == model.StageStoryline {
			j.ReferenceImageURLs = cached
		}
		return nil
	})
}

// runReferenceImages fans out image generation with bounded concurrency.
// The stage tolerates partial failure as long as a minimum viable set
// exists, counting any user-supplied brand assets.
func (o *Orchestrator) runReferenceImages(ctx context.Context, job *model.Job) error {
	count := o.cfg.ReferenceImages
	urls := make([]string, count)
	errs := make([]error, count)

	sem := make(chan struct{}, o.cfg.FanoutConcurrency)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			prompt := buildImagePrompt(&job.Brief, i)
			errs[i] = o.retry.Do(ctx, func(int) error {
				url, err := o.clients.Images.GenerateImage(ctx, prompt)
				if err != nil {
					return err
				}
				urls[i] = url
				return nil
			})
		}(i)
	}
	wg.Wait()

	generated := make([]string, 0, count)
	var lastErr error
	for i := 0; i < count; i++ {
		if errs[i] != nil {
			log.Printf("[Pipeline] job=%s reference image %d failed: %v", job.ID, i, errs[i])
			lastErr = errs[i]
			continue
		}
		generated = append(generated, urls[i])
	}

	viable := len(generated) + len(job.Brief.UserAssetURLs)
	if viable < o.cfg.ReferenceImageMin {
		return fmt.Errorf("only %d of %d reference images viable (minimum %d): %w",
			viable, count, o.cfg.ReferenceImageMin, lastErr)
	}

	refs := append(generated, job.Brief.UserAssetURLs...)
	if err := o.store.SetBrandImages(ctx, job.BrandID, refs); err != nil {
		log.Printf("[Pipeline] job=%s brand image cache write failed: %v", job.ID, err)
	}

	return o.advance(ctx, job.ID, model.StageReferenceImages, model.StageStoryline, func(j *model.Job) error {
		j.ReferenceImageURLs = refs
		return nil
	})
}

// runStoryline asks for the structured script and materializes the scene
// jobs. Malformed scripts surface as transient errors, so the bounded retry
// covers them.
func (o *Orchestrator) runStoryline(ctx context.Context, job *model.Job) error {
	var storyline *model.Storyline
	err := o.retry.Do(ctx, func(int) error {
		s, err := o.clients.Storyline.GenerateStoryline(ctx, &job.Brief)
		if err != nil {
			return err
		}
		storyline = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("storyline generation: %w", err)
	}

	return o.advance(ctx, job.ID, model.StageStoryline, model.StageSceneVideos, func(j *model.Job) error {
		j.SceneCount = len(storyline.Scenes)
		j.MusicHint = storyline.MusicHint
		j.Scenes = make([]model.SceneJob, len(storyline.Scenes))
		for i, plan := range storyline.Scenes {
			j.Scenes[i] = model.SceneJob{
				Index:     i,
				Status:    model.SceneStatusPending,
				Prompt:    plan.VisualPrompt,
				Narration: plan.Narration,
				Duration:  plan.Duration,
			}
		}
		// Only overlays backed by a real asset can be composited.
		j.Overlays = nil
		for _, ov := range storyline.Overlays {
			if ov.AssetURL != "" {
				j.Overlays = append(j.Overlays, ov)
			}
		}
		return nil
	})
}

// runSceneVideos generates scenes strictly in order. Each scene's prompt is
// conditioned on the previous scene's asset for visual continuity, which is
// why this stage must never fan out. Already-succeeded scenes are skipped so
// a resumed run picks up at the first incomplete scene.
func (o *Orchestrator) runSceneVideos(ctx context.Context, job *model.Job) error {
	strict := o.cfg.SceneFailurePolicy != string(model.SceneFailurePolicyDegrade)

	for i := range job.Scenes {
		if job.Scenes[i].Status == model.SceneStatusSucceeded {
			continue
		}

		url, err := o.generateScene(ctx, job, i, job.Scenes[i].Prompt)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if strict {
				return &sceneFailure{Index: i, Err: err}
			}
			log.Printf("[Pipeline] job=%s degrading: dropping failed scene %d: %v", job.ID, i, err)
			continue
		}
		job.Scenes[i].AssetURL = url
		job.Scenes[i].Status = model.SceneStatusSucceeded

		// Re-derive progress after each completed scene.
		updated, uerr := o.store.Update(ctx, job.ID, model.StageSceneVideos, func(j *model.Job) error {
			j.Progress = Progress(j.Stage, j.CompletedScenes(), j.SceneCount)
			return nil
		})
		if uerr == nil && o.notifier != nil {
			o.notifier.NotifyProgress(job.ID, updated.Stage, updated.Progress)
		}
	}

	succeeded := 0
	for i := range job.Scenes {
		if job.Scenes[i].Status == model.SceneStatusSucceeded {
			succeeded++
		}
	}
	if succeeded == 0 {
		return fmt.Errorf("no scenes generated")
	}

	return o.advance(ctx, job.ID, model.StageSceneVideos, model.StageVoiceovers, nil)
}

// generateScene runs the bounded-retry loop for one scene, committing each
// attempt and the outcome to the store.
func (o *Orchestrator) generateScene(ctx context.Context, job *model.Job, idx int, prompt string) (string, error) {
	continuity := o.continuityRef(job, idx)

	var url string
	err := o.retry.Do(ctx, func(attempt int) error {
		if _, err := store.SetSceneResult(ctx, o.store, job.ID, idx, store.SceneResult{
			Status: model.SceneStatusGenerating,
		}); err != nil {
			return err
		}

		log.Printf("[Pipeline] job=%s scene %d attempt %d (continuity=%t)", job.ID, idx, attempt, continuity != "")
		u, err := o.clients.Video.GenerateVideo(ctx, prompt, continuity)
		if err != nil {
			// The remote side may have billed this attempt anyway; that is
			// outside our control but worth a trace.
			log.Printf("[Pipeline] job=%s scene %d attempt %d failed: %v", job.ID, idx, attempt, err)
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		_, serr := store.SetSceneResult(ctx, o.store, job.ID, idx, store.SceneResult{
			Status: model.SceneStatusFailed,
			Err:    err.Error(),
		})
		if serr != nil {
			log.Printf("[Pipeline] job=%s scene %d failure not persisted: %v", job.ID, idx, serr)
		}
		return "", err
	}

	if _, err := store.SetSceneResult(ctx, o.store, job.ID, idx, store.SceneResult{
		Status:   model.SceneStatusSucceeded,
		AssetURL: url,
	}); err != nil {
		return "", err
	}
	return url, nil
}

// continuityRef picks the visual conditioning input for a scene: the
// previous scene's asset, or a brand reference image for the first scene.
func (o *Orchestrator) continuityRef(job *model.Job, idx int) string {
	if idx > 0 && job.Scenes[idx-1].Status == model.SceneStatusSucceeded {
		return job.Scenes[idx-1].AssetURL
	}
	if idx == 0 && len(job.ReferenceImageURLs) > 0 {
		return job.ReferenceImageURLs[0]
	}
	return ""
}

// runVoiceovers synthesizes narration for scenes that carry text. Scenes are
// independent here, so this stage fans out with bounded concurrency.
func (o *Orchestrator) runVoiceovers(ctx context.Context, job *model.Job) error {
	type task struct {
		idx  int
		text string
	}
	var tasks []task
	for i := range job.Scenes {
		// A scene dropped under the degrade policy won't be composited,
		// so its narration is never spoken.
		if job.Scenes[i].Status != model.SceneStatusSucceeded {
			continue
		}
		if job.Scenes[i].Narration == "" {
			continue
		}
		if _, done := job.VoiceoverURLs[i]; done {
			continue
		}
		tasks = append(tasks, task{idx: i, text: job.Scenes[i].Narration})
	}

	results := make(map[int]string, len(tasks))
	errs := make([]error, len(tasks))
	var mu sync.Mutex

	sem := make(chan struct{}, o.cfg.FanoutConcurrency)
	var wg sync.WaitGroup
	for ti, t := range tasks {
		wg.Add(1)
		go func(ti int, t task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			errs[ti] = o.retry.Do(ctx, func(int) error {
				url, err := o.clients.Speech.GenerateSpeech(ctx, t.text)
				if err != nil {
					return err
				}
				mu.Lock()
				results[t.idx] = url
				mu.Unlock()
				return nil
			})
		}(ti, t)
	}
	wg.Wait()

	for ti, err := range errs {
		if err != nil {
			return fmt.Errorf("voiceover for scene %d: %w", tasks[ti].idx, err)
		}
	}

	return o.advance(ctx, job.ID, model.StageVoiceovers, model.StageMusic, func(j *model.Job) error {
		if j.VoiceoverURLs == nil {
			j.VoiceoverURLs = make(map[int]string)
		}
		for idx, url := range results {
			j.VoiceoverURLs[idx] = url
		}
		return nil
	})
}

// runMusic requests a single track sized to the summed scene duration.
func (o *Orchestrator) runMusic(ctx context.Context, job *model.Job) error {
	prompt := buildMusicPrompt(&job.Brief, job.MusicHint)
	duration := job.TotalSceneDuration()

	var url string
	err := o.retry.Do(ctx, func(int) error {
		u, err := o.clients.Music.GenerateMusic(ctx, prompt, duration)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		return fmt.Errorf("music generation: %w", err)
	}

	return o.advance(ctx, job.ID, model.StageMusic, model.StageCompositing, func(j *model.Job) error {
		j.MusicURL = url
		return nil
	})
}

// runCompositing invokes the local composer over the full asset set and
// uploads the result. This step is local, so remote-retry semantics do not
// apply; a composition failure fails the stage.
func (o *Orchestrator) runCompositing(ctx context.Context, job *model.Job) error {
	var sceneURLs []string
	var durations []float64
	voiceovers := make(map[int]string)
	pos := 0
	for i := range job.Scenes {
		if job.Scenes[i].Status != model.SceneStatusSucceeded {
			continue
		}
		sceneURLs = append(sceneURLs, job.Scenes[i].AssetURL)
		durations = append(durations, job.Scenes[i].Duration)
		if url, ok := job.VoiceoverURLs[i]; ok {
			voiceovers[pos] = url
		}
		pos++
	}

	result, err := o.composer.Compose(ctx, &composer.Request{
		JobID:         job.ID,
		SceneURLs:     sceneURLs,
		Durations:     durations,
		VoiceoverURLs: voiceovers,
		MusicURL:      job.MusicURL,
		Overlays:      job.Overlays,
	})
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	defer os.Remove(result.Path)

	f, err := os.Open(result.Path)
	if err != nil {
		return fmt.Errorf("open composed file: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("campaigns/%s/final.mp4", job.ID)
	finalURL, err := o.storage.Upload(ctx, key, f, "video/mp4")
	if err != nil {
		return fmt.Errorf("upload final asset: %w", err)
	}

	if err := o.advance(ctx, job.ID, model.StageCompositing, model.StageComplete, func(j *model.Job) error {
		j.FinalAssetURL = finalURL
		j.FinalDuration = result.Duration
		return nil
	}); err != nil {
		return err
	}

	if o.notifier != nil {
		o.notifier.NotifyComplete(job.ID, model.ResultResponse{
			JobID:         job.ID,
			FinalAssetURL: finalURL,
			Duration:      result.Duration,
		})
	}
	return nil
}

// runSceneRegeneration re-generates exactly one scene of a finished job with
// the same continuity input the scene originally had, then falls through to
// compositing. Sibling scenes, voiceovers, and music stay untouched.
func (o *Orchestrator) runSceneRegeneration(ctx context.Context, job *model.Job) error {
	if job.RegenSceneIndex == nil {
		return fmt.Errorf("regenerating_scene stage without a scene index")
	}
	idx := *job.RegenSceneIndex
	if idx < 0 || idx >= len(job.Scenes) {
		return fmt.Errorf("regeneration index %d out of range", idx)
	}

	url, err := o.generateScene(ctx, job, idx, job.Scenes[idx].Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &sceneFailure{Index: idx, Err: err}
	}
	job.Scenes[idx].AssetURL = url
	job.Scenes[idx].Status = model.SceneStatusSucceeded

	return o.advance(ctx, job.ID, model.StageRegeneratingScene, model.StageCompositing, func(j *model.Job) error {
		j.RegenSceneIndex = nil
		return nil
	})
}

// failJob records the terminal failure with enough detail for a targeted
// retry (the failing stage, and scene index when applicable).
func (o *Orchestrator) failJob(ctx context.Context, jobID string, stage model.Stage, sceneIdx *int, cause error) error {
	jobErr := classify(stage, sceneIdx, cause)

	_, err := o.store.Update(ctx, jobID, "", func(j *model.Job) error {
		j.Stage = model.StageFailed
		j.Error = &jobErr
		now := time.Now()
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist failure for job %s: %w", jobID, err)
	}

	log.Printf("[Pipeline] job=%s failed at stage %s: %s", jobID, stage, jobErr.Message)
	if o.notifier != nil {
		o.notifier.NotifyError(jobID, jobErr)
	}
	return nil
}

func classify(stage model.Stage, sceneIdx *int, cause error) model.JobError {
	jobErr := model.JobError{
		Stage:      stage,
		SceneIndex: sceneIdx,
		Code:       model.ErrCodeInternal,
	}

	switch {
	case errors.Is(cause, errCancelled):
		jobErr.Code = model.ErrCodeCancelled
		jobErr.Message = "job cancelled"
	case composer.IsTransientComposition(cause):
		jobErr.Code = model.ErrCodeComposition
		jobErr.Message = cause.Error()
		jobErr.Retriable = true
	default:
		var ce *composer.CompositionError
		var re *client.RemoteError
		switch {
		case errors.As(cause, &ce):
			jobErr.Code = model.ErrCodeComposition
			jobErr.Message = cause.Error()
		case errors.As(cause, &re) && re.Transient:
			jobErr.Code = model.ErrCodeRemoteTransient
			jobErr.Message = cause.Error()
			jobErr.Retriable = true
		case errors.As(cause, &re):
			jobErr.Code = model.ErrCodeRemotePermanent
			jobErr.Message = cause.Error()
		case cause != nil:
			jobErr.Message = cause.Error()
		}
	}
	return jobErr
}

func buildImagePrompt(brief *model.Brief, variant int) string {
	return fmt.Sprintf(
		"Brand reference image %d for %s: %s. %s aesthetic, clean product photography, consistent lighting.",
		variant+1, brief.ProductName, brief.Description, brief.Tone,
	)
}

func buildMusicPrompt(brief *model.Brief, hint string) string {
	if hint != "" {
		return fmt.Sprintf("%s instrumental, %s mood, suitable as a video ad bed", hint, brief.Tone)
	}
	return fmt.Sprintf("Instrumental %s background track for a %s ad", brief.Tone, brief.ProductName)
}
