package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Question is a graded question together with its reference answer and the answer's embedding.
// The three mappings used at grading time (normalized text, reference answer, embedding) live
// on the same row so they can never diverge in key set.
type Question struct {
	ID              uint           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Text            string         `gorm:"type:text;not null" json:"text"`
	NormalizedText  string         `gorm:"type:text;not null;index" json:"normalized_text"`
	ReferenceAnswer string         `gorm:"type:text;not null" json:"reference_answer"`
	Embedding       datatypes.JSON `gorm:"type:json" json:"-"`
	EmbeddingModel  string         `gorm:"size:128" json:"embedding_model"`
	Dimension       int            `gorm:"not null" json:"dimension"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SetEmbedding serializes the vector into the JSON storage column and records its dimension.
func (q *Question) SetEmbedding(vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		q.Embedding = datatypes.JSON([]byte("[]"))
		q.Dimension = 0
		return
	}
	q.Embedding = datatypes.JSON(data)
	q.Dimension = len(vector)
}

// Vector deserializes the stored embedding.
func (q Question) Vector() ([]float32, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}

	var vector []float32
	if err := json.Unmarshal(q.Embedding, &vector); err != nil {
		return nil, err
	}

	return vector, nil
}
