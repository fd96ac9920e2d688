package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

const questionBatchSize = 500

// QuestionRepository persists the question bank.
type QuestionRepository interface {
	ListAll(ctx context.Context) ([]models.Question, error)
	GetByID(ctx context.Context, id uint) (models.Question, error)
	Count(ctx context.Context) (int64, error)
	UpsertBatch(ctx context.Context, items []models.Question) (int64, error)
	ReplaceAll(ctx context.Context, items []models.Question) error
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository constructs the repository implementation.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) ListAll(ctx context.Context) ([]models.Question, error) {
	var items []models.Question
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var item models.Question
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return models.Question{}, err
	}
	return item, nil
}

func (r *questionRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Question{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *questionRepository) UpsertBatch(ctx context.Context, items []models.Question) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"text", "normalized_text", "reference_answer", "embedding", "embedding_model", "dimension", "updated_at",
		}),
	})

	result := tx.CreateInBatches(&items, questionBatchSize)
	return result.RowsAffected, result.Error
}

// ReplaceAll swaps the whole bank in one transaction, so readers never see a mix of
// two datasets.
func (r *questionRepository) ReplaceAll(ctx context.Context, items []models.Question) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.CreateInBatches(&items, questionBatchSize).Error
	})
}
