package models

import "time"

const (
	// GradingRunSourceAPI marks runs submitted as JSON through the HTTP API.
	GradingRunSourceAPI = "api"
	// GradingRunSourceUpload marks runs created from an uploaded CSV or XLSX file.
	GradingRunSourceUpload = "upload"
	// GradingRunSourceCLI marks runs created by the command line evaluator.
	GradingRunSourceCLI = "cli"
)

// GradingRun is a persisted batch evaluation.
type GradingRun struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Label           string          `gorm:"size:255" json:"label"`
	Subject         string          `gorm:"size:255;index" json:"subject"`
	Source          string          `gorm:"size:32;not null" json:"source"`
	TotalItems      int             `gorm:"not null" json:"total_items"`
	FailedItems     int             `gorm:"not null" json:"failed_items"`
	UnresolvedItems int             `gorm:"not null" json:"unresolved_items"`
	AverageScore    float64         `json:"average_score"`
	AverageMark     float64         `json:"average_mark"`
	CreatedAt       time.Time       `json:"created_at"`
	Records         []GradingRecord `gorm:"foreignKey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"records,omitempty"`
}

// GradingRecord is one graded row of a run. Position keeps the input order.
type GradingRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RunID           uint      `gorm:"not null;index" json:"run_id"`
	Position        int       `gorm:"not null" json:"position"`
	StudentID       string    `gorm:"size:64;index" json:"student_id"`
	StudentName     string    `gorm:"size:255" json:"student_name"`
	QuestionID      *uint     `json:"question_id"`
	Question        string    `gorm:"type:text" json:"question"`
	StudentAnswer   string    `gorm:"type:text" json:"student_answer"`
	CleanedAnswer   string    `gorm:"type:text" json:"cleaned_answer"`
	SimilarityScore float64   `json:"similarity_score"`
	Mark            int       `json:"mark"`
	ReferenceAnswer string    `gorm:"type:text" json:"reference_answer"`
	Resolved        bool      `gorm:"not null;default:false" json:"resolved"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Failed reports whether the record is an error placeholder.
func (r GradingRecord) Failed() bool {
	return r.Error != ""
}
