package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/preprocess"
	"github.com/noah-isme/gema-grader/internal/questionbank"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/embedding"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type graderFixture struct {
	db        *gorm.DB
	holder    *questionbank.Holder
	grading   GradingService
	bank      QuestionBankService
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
}

var sampleDataset = []batchio.DatasetRow{
	{Position: 0, Question: "What is the powerhouse of the cell?", Answer: "The mitochondria is the powerhouse of the cell"},
	{Position: 1, Question: "What gas do plants absorb for photosynthesis?", Answer: "Plants absorb carbon dioxide from the air"},
	{Position: 2, Question: "At what temperature does water boil?", Answer: "Water boils at one hundred degrees celsius"},
}

func newGraderFixture(t *testing.T, options GradingOptions) graderFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Question{}, &models.GradingRun{}, &models.GradingRecord{}))

	questions := repository.NewQuestionRepository(db)
	holder := questionbank.NewHolder(questions, zerolog.Nop())
	embedder := embedding.NewHashing(0)
	normalizer := preprocess.New()
	validate := validator.New()

	bank, err := NewQuestionBankService(questions, holder, normalizer, embedder, validate, zerolog.Nop())
	require.NoError(t, err)

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if options.EventSubject == "" {
		options.EventSubject = "grading.run.completed"
	}
	publisher := &recordingPublisher{}
	gradingSvc := NewGradingService(holder, normalizer, embedder, repository.NewGradingRunRepository(db), client, publisher, validate, options, zerolog.Nop())

	return graderFixture{
		db:        db,
		holder:    holder,
		grading:   gradingSvc,
		bank:      bank,
		publisher: publisher,
		redis:     mini,
	}
}

func (f graderFixture) importSample(t *testing.T) {
	t.Helper()
	_, err := f.bank.ImportDataset(context.Background(), sampleDataset)
	require.NoError(t, err)
}
