package grading

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-grader/pkg/embedding"
)

// Summary aggregates a batch of records.
type Summary struct {
	Total        int         `json:"total"`
	Graded       int         `json:"graded"`
	Failed       int         `json:"failed"`
	Unresolved   int         `json:"unresolved"`
	AverageScore float64     `json:"average_score"`
	AverageMark  float64     `json:"average_mark"`
	MarkCounts   map[int]int `json:"mark_counts"`
}

// Summarize counts outcomes and averages score and mark over graded records.
func Summarize(records []Record) Summary {
	summary := Summary{Total: len(records), MarkCounts: map[int]int{}}

	var scoreSum, markSum float64
	for _, record := range records {
		switch {
		case record.Failed():
			summary.Failed++
		case !record.Resolved:
			summary.Unresolved++
		default:
			summary.Graded++
			scoreSum += record.SimilarityScore
			markSum += float64(record.Mark)
		}
		summary.MarkCounts[record.Mark]++
	}

	if summary.Graded > 0 {
		summary.AverageScore = scoreSum / float64(summary.Graded)
		summary.AverageMark = markSum / float64(summary.Graded)
	}
	return summary
}

const dimensionSample = "dimension check"

// VerifyDimension embeds a sample text and checks it against the index dimension. An empty
// index passes.
func VerifyDimension(ctx context.Context, embedder embedding.Embedder, dimension int) error {
	if dimension == 0 {
		return nil
	}
	vector, err := embedder.Embed(ctx, dimensionSample)
	if err != nil {
		return fmt.Errorf("embed dimension sample: %w", err)
	}
	if len(vector) != dimension {
		return fmt.Errorf("%w: model %s produces %d, question bank stores %d",
			ErrDimensionMismatch, embedder.Model(), len(vector), dimension)
	}
	return nil
}
