package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status             string    `json:"status"`
	Timestamp          time.Time `json:"timestamp"`
	Service            string    `json:"service"`
	Environment        string    `json:"environment"`
	QuestionBankSize   int       `json:"question_bank_size"`
	EmbeddingDimension int       `json:"embedding_dimension"`
	EmbeddingModel     string    `json:"embedding_model"`
}

// HealthCheck reports service health. An empty question bank is reported as degraded.
func HealthCheck(cfg config.Config, bank *questionbank.Holder, embeddingModel string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			Service:        cfg.AppName,
			Environment:    cfg.AppEnv,
			EmbeddingModel: embeddingModel,
		}
		if bank != nil {
			idx := bank.Current()
			payload.QuestionBankSize = idx.Len()
			payload.EmbeddingDimension = idx.Dimension()
		}
		if payload.QuestionBankSize == 0 {
			payload.Status = "degraded"
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
