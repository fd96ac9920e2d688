package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

const recordBatchSize = 500

// GradingRunFilter filters grading run list queries.
type GradingRunFilter struct {
	Source   string
	Since    *time.Time
	Page     int
	PageSize int
}

// GradingStats aggregates every persisted run.
type GradingStats struct {
	Runs             int64
	Items            int64
	Failed           int64
	Unresolved       int64
	AverageScore     float64
	AverageMark      float64
	MarkDistribution map[int]int64
}

// StudentResult aggregates one student's records within a run.
type StudentResult struct {
	RunID        uint
	StudentID    string
	StudentName  string
	Subject      string
	Items        int64
	TotalMarks   int64
	AverageScore float64
	CreatedAt    time.Time
}

// GradingRunRepository persists batch evaluations and their records.
type GradingRunRepository interface {
	Create(ctx context.Context, run *models.GradingRun) error
	List(ctx context.Context, filter GradingRunFilter) ([]models.GradingRun, int64, error)
	GetByID(ctx context.Context, id uint) (models.GradingRun, error)
	Stats(ctx context.Context) (GradingStats, error)
	SearchStudents(ctx context.Context, query string, limit int) ([]StudentResult, error)
}

type gradingRunRepository struct {
	db *gorm.DB
}

// NewGradingRunRepository constructs the repository implementation.
func NewGradingRunRepository(db *gorm.DB) GradingRunRepository {
	return &gradingRunRepository{db: db}
}

func (r *gradingRunRepository) Create(ctx context.Context, run *models.GradingRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		records := run.Records
		run.Records = nil
		if err := tx.Create(run).Error; err != nil {
			run.Records = records
			return err
		}

		for i := range records {
			records[i].RunID = run.ID
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(&records, recordBatchSize).Error; err != nil {
				run.Records = records
				return err
			}
		}
		run.Records = records
		return nil
	})
}

func (r *gradingRunRepository) List(ctx context.Context, filter GradingRunFilter) ([]models.GradingRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.GradingRun{})
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var runs []models.GradingRun
	if err := query.Order("created_at DESC, id DESC").Find(&runs).Error; err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

func (r *gradingRunRepository) GetByID(ctx context.Context, id uint) (models.GradingRun, error) {
	var run models.GradingRun
	err := r.db.WithContext(ctx).
		Preload("Records", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		return models.GradingRun{}, err
	}
	return run, nil
}

func (r *gradingRunRepository) Stats(ctx context.Context) (GradingStats, error) {
	stats := GradingStats{MarkDistribution: map[int]int64{}}
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.GradingRun{}).Count(&stats.Runs).Error; err != nil {
		return GradingStats{}, err
	}

	var totals struct {
		Items      int64
		Failed     int64
		Unresolved int64
	}
	err := db.Model(&models.GradingRecord{}).Select(
		"COUNT(*) AS items, " +
			"COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0) AS failed, " +
			"COALESCE(SUM(CASE WHEN error = '' AND resolved = ? THEN 1 ELSE 0 END), 0) AS unresolved",
		false,
	).Scan(&totals).Error
	if err != nil {
		return GradingStats{}, err
	}
	stats.Items = totals.Items
	stats.Failed = totals.Failed
	stats.Unresolved = totals.Unresolved

	graded := db.Model(&models.GradingRecord{}).Where("error = '' AND resolved = ?", true)

	var averages struct {
		AverageScore float64
		AverageMark  float64
	}
	if err := graded.Session(&gorm.Session{}).
		Select("COALESCE(AVG(similarity_score), 0) AS average_score, COALESCE(AVG(mark), 0) AS average_mark").
		Scan(&averages).Error; err != nil {
		return GradingStats{}, err
	}
	stats.AverageScore = averages.AverageScore
	stats.AverageMark = averages.AverageMark

	var buckets []struct {
		Mark  int
		Total int64
	}
	if err := graded.Session(&gorm.Session{}).
		Select("mark, COUNT(*) AS total").
		Group("mark").
		Scan(&buckets).Error; err != nil {
		return GradingStats{}, err
	}
	for _, bucket := range buckets {
		stats.MarkDistribution[bucket.Mark] = bucket.Total
	}

	return stats, nil
}

// SearchStudents matches the query case-insensitively against student ids, student names
// and run subjects. Only records that name a student are considered; results are grouped
// per run and student, newest run first.
func (r *gradingRunRepository) SearchStudents(ctx context.Context, query string, limit int) ([]StudentResult, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	db := r.db.WithContext(ctx)

	var groups []struct {
		RunID        uint
		StudentID    string
		StudentName  string
		Items        int64
		TotalMarks   int64
		AverageScore float64
	}
	search := db.Model(&models.GradingRecord{}).
		Select("grading_records.run_id AS run_id, grading_records.student_id AS student_id, "+
			"grading_records.student_name AS student_name, COUNT(*) AS items, "+
			"COALESCE(SUM(grading_records.mark), 0) AS total_marks, "+
			"COALESCE(AVG(grading_records.similarity_score), 0) AS average_score").
		Joins("JOIN grading_runs ON grading_runs.id = grading_records.run_id").
		Where("(grading_records.student_id <> '' OR grading_records.student_name <> '')").
		Where("(LOWER(grading_records.student_id) LIKE ? OR LOWER(grading_records.student_name) LIKE ? OR LOWER(grading_runs.subject) LIKE ?)",
			pattern, pattern, pattern).
		Group("grading_records.run_id, grading_records.student_id, grading_records.student_name").
		Order("grading_records.run_id DESC, grading_records.student_name ASC, grading_records.student_id ASC")
	if limit > 0 {
		search = search.Limit(limit)
	}
	if err := search.Scan(&groups).Error; err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []StudentResult{}, nil
	}

	runIDs := make([]uint, 0, len(groups))
	seen := make(map[uint]struct{}, len(groups))
	for _, group := range groups {
		if _, ok := seen[group.RunID]; ok {
			continue
		}
		seen[group.RunID] = struct{}{}
		runIDs = append(runIDs, group.RunID)
	}

	var runs []models.GradingRun
	if err := db.Where("id IN ?", runIDs).Find(&runs).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.GradingRun, len(runs))
	for _, run := range runs {
		byID[run.ID] = run
	}

	results := make([]StudentResult, 0, len(groups))
	for _, group := range groups {
		run := byID[group.RunID]
		results = append(results, StudentResult{
			RunID:        group.RunID,
			StudentID:    group.StudentID,
			StudentName:  group.StudentName,
			Subject:      run.Subject,
			Items:        group.Items,
			TotalMarks:   group.TotalMarks,
			AverageScore: group.AverageScore,
			CreatedAt:    run.CreatedAt,
		})
	}
	return results, nil
}
