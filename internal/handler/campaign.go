package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/adforge/api/internal/model"
	"github.com/adforge/api/internal/service"
	"github.com/adforge/api/pkg/response"
)

type CampaignHandler struct {
	service   *service.CampaignService
	validator *validator.Validate
}

func NewCampaignHandler(svc *service.CampaignService, v *validator.Validate) *CampaignHandler {
	return &CampaignHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/campaigns/generate
// @Summary      Start campaign generation
// @Description  Start an asynchronous video ad generation job from a campaign brief
// @Tags         Campaigns
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateStartRequest true "Campaign generation request"
// @Success      202 {object} model.GenerateStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/generate [post]
func (h *CampaignHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartGeneration(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/campaigns/status/:jobId
// @Summary      Get campaign job status
// @Description  Get the current stage, progress, and per-scene state of a generation job
// @Tags         Campaigns
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.StatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/status/{jobId} [get]
func (h *CampaignHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/campaigns/result/:jobId
// @Summary      Get campaign job result
// @Description  Get the final video and intermediate assets of a completed job
// @Tags         Campaigns
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ResultResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/result/{jobId} [get]
func (h *CampaignHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.ValidationError(c, "Job not completed yet", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/campaigns/cancel/:jobId
// @Summary      Cancel campaign job
// @Description  Request cooperative cancellation of a running generation job
// @Tags         Campaigns
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.CancelResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/cancel/{jobId} [post]
func (h *CampaignHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobFinished) {
			return response.Conflict(c, "Job already finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// RegenerateScene handles POST /api/campaigns/:jobId/scenes/:sceneIndex/regenerate
// @Summary      Regenerate a single scene
// @Description  Replace one scene of a finished job and recompose the final video
// @Tags         Campaigns
// @Accept       json
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        sceneIndex path int true "Scene index"
// @Param        request body model.RegenerateSceneRequest true "Scene regeneration request"
// @Success      202 {object} model.RegenerateSceneResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/campaigns/{jobId}/scenes/{sceneIndex}/regenerate [post]
func (h *CampaignHandler) RegenerateScene(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}
	sceneIndex, err := strconv.Atoi(c.Params("sceneIndex"))
	if err != nil {
		return response.ValidationError(c, "Scene index must be an integer", nil)
	}

	var req model.RegenerateSceneRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RegenerateScene(c.Context(), jobID, sceneIndex, &req)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobRunning) {
			return response.Conflict(c, "Job is still running")
		}
		if errors.Is(err, service.ErrSceneIndex) {
			return response.ValidationError(c, "Scene index out of range", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

func formatValidationErrors(err error) map[string]string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
