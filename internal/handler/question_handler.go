package handler

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// QuestionHandler serves question lookups and question bank maintenance.
type QuestionHandler struct {
	service service.QuestionBankService
	logger  zerolog.Logger
}

// NewQuestionHandler constructs the handler.
func NewQuestionHandler(service service.QuestionBankService, logger zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		service: service,
		logger:  logger.With().Str("component", "question_handler").Logger(),
	}
}

// Register attaches question routes. adminMiddleware guards the mutating endpoints.
func (h *QuestionHandler) Register(router fiber.Router, adminMiddleware ...fiber.Handler) {
	router.Post("/resolve", h.resolve)
	router.Post("/import", withMiddleware(adminMiddleware, h.importQuestions)...)
	router.Post("/reload", withMiddleware(adminMiddleware, h.reload)...)
	router.Get("/:id", h.get)
}

func (h *QuestionHandler) resolve(c *fiber.Ctx) error {
	var payload dto.ResolveQuestionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.Resolve(c.UserContext(), payload)
	if err != nil {
		return h.handleError(c, err, "failed to resolve question")
	}
	return utils.SendSuccess(c, "question resolved", result)
}

func (h *QuestionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	question, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err, "failed to load question")
	}
	return utils.SendSuccess(c, "question retrieved", question)
}

// importQuestions accepts either a JSON document or a multipart CSV/XLSX dataset.
func (h *QuestionHandler) importQuestions(c *fiber.Ctx) error {
	var (
		result dto.QuestionImportResponse
		err    error
	)

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		fileHeader, formErr := c.FormFile("file")
		if formErr != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "file is required")
		}
		file, openErr := fileHeader.Open()
		if openErr != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
		}
		defer file.Close()

		payload, readErr := io.ReadAll(file)
		if readErr != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "unable to read file")
		}
		result, err = h.service.ImportFile(c.UserContext(), fileHeader.Filename, payload)
	} else {
		result, err = h.service.ImportJSON(c.UserContext(), c.Body())
	}
	if err != nil {
		return h.handleError(c, err, "failed to import questions")
	}

	requestLogger(h.logger, c).Info().
		Int("imported", result.Imported).
		Int("total", result.Total).
		Bool("replaced", result.Replaced).
		Msg("question bank imported")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "questions imported", result)
}

func (h *QuestionHandler) reload(c *fiber.Ctx) error {
	size, err := h.service.Reload(c.UserContext())
	if err != nil {
		return h.handleError(c, err, "failed to reload question bank")
	}
	return utils.SendSuccess(c, "question bank reloaded", fiber.Map{"question_bank_size": size})
}

func (h *QuestionHandler) handleError(c *fiber.Ctx, err error, fallback string) error {
	var schemaErr *batchio.SchemaError

	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.As(err, &schemaErr):
		return utils.Fail(c, fiber.StatusBadRequest, "missing required columns", fiber.Map{
			"missing": schemaErr.Missing,
			"found":   schemaErr.Found,
		})
	case errors.Is(err, service.ErrInvalidImport), errors.Is(err, questionbank.ErrInvalidEntry):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, batchio.ErrUnsupportedFormat):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrQuestionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(fallback)
		return utils.SendError(c, fiber.StatusInternalServerError, fallback)
	}
}
