package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler exposes single-answer grading, batch runs and run history.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading routes. batchMiddleware guards the endpoints that start runs.
func (h *GradingHandler) Register(router fiber.Router, batchMiddleware ...fiber.Handler) {
	router.Post("/grade", h.grade)
	router.Post("/batch", withMiddleware(batchMiddleware, h.batch)...)
	router.Post("/batch/upload", withMiddleware(batchMiddleware, h.upload)...)
	router.Get("/runs", h.listRuns)
	router.Get("/runs/:id", h.getRun)
	router.Get("/runs/:id/export", h.exportRun)
	router.Get("/stats", h.stats)
	router.Get("/search", h.search)
}

func (h *GradingHandler) grade(c *fiber.Ctx) error {
	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Grade(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err, "failed to grade answer")
	}

	message := "answer graded"
	if !result.Resolved {
		message = "question not found"
	}
	return utils.SendSuccess(c, message, result)
}

func (h *GradingHandler) batch(c *fiber.Ctx) error {
	var payload dto.BatchGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	run, err := h.service.GradeBatch(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err, "failed to grade batch")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "batch graded", run)
}

func (h *GradingHandler) upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
	}

	run, err := h.service.GradeUpload(c.UserContext(), dto.BatchUpload{
		Label:    c.FormValue("label"),
		Subject:  c.FormValue("subject"),
		FileName: fileHeader.Filename,
		Payload:  payload,
	})
	if err != nil {
		return h.handleError(c, err, "failed to grade upload")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "batch graded", run)
}

func (h *GradingHandler) listRuns(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}

	result, err := h.service.ListRuns(c.UserContext(), dto.GradingRunListRequest{
		Source:   c.Query("source"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return h.handleError(c, err, "failed to list grading runs")
	}
	return utils.OK(c, result.Items, "grading runs retrieved", result.Pagination)
}

func (h *GradingHandler) getRun(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	run, err := h.service.GetRun(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err, "failed to load grading run")
	}
	return utils.SendSuccess(c, "grading run retrieved", run)
}

func (h *GradingHandler) exportRun(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	format := batchio.FormatCSV
	if raw := c.Query("format"); raw != "" {
		if format, err = batchio.ParseFormat(raw); err != nil {
			return h.handleError(c, err, "failed to export grading run")
		}
	}

	payload, err := h.service.ExportRun(c.UserContext(), id, format)
	if err != nil {
		return h.handleError(c, err, "failed to export grading run")
	}

	c.Attachment(fmt.Sprintf("grading-run-%d.%s", id, format))
	return c.Status(fiber.StatusOK).Send(payload)
}

func (h *GradingHandler) stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return h.handleError(c, err, "failed to load grading stats")
	}
	return utils.SendSuccess(c, "grading stats retrieved", stats)
}

func (h *GradingHandler) search(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	results, err := h.service.SearchStudents(c.UserContext(), dto.StudentSearchRequest{
		Query: c.Query("query"),
		Limit: limit,
	})
	if err != nil {
		return h.handleError(c, err, "failed to search students")
	}
	return utils.SendSuccess(c, "students retrieved", results)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error, fallback string) error {
	var inputErr *grading.InputValidationError
	var schemaErr *batchio.SchemaError

	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.As(err, &inputErr):
		return utils.Fail(c, fiber.StatusBadRequest, "invalid batch input", inputErr.Issues)
	case errors.As(err, &schemaErr):
		return utils.Fail(c, fiber.StatusBadRequest, "missing required columns", fiber.Map{
			"missing": schemaErr.Missing,
			"found":   schemaErr.Found,
		})
	case errors.Is(err, service.ErrBatchTooLarge):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, batchio.ErrUnsupportedFormat):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrQuestionBankEmpty):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrGradingRunNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
