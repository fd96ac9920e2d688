package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/questionbank"
)

func TestQuestionBankImportDatasetAssignsRowIDs(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	ctx := context.Background()

	summary, err := fixture.bank.ImportDataset(ctx, sampleDataset)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Imported)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 384, summary.Dimension)
	require.Equal(t, "hashing-384", summary.EmbeddingModel)
	require.True(t, summary.Replaced)
	require.Equal(t, 3, fixture.holder.Current().Len())

	question, err := fixture.bank.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "What gas do plants absorb for photosynthesis?", question.Text)
	require.Equal(t, "what gas do plants absorb for photosynthesis?", question.NormalizedText)
	require.Equal(t, 384, question.Dimension)

	_, err = fixture.bank.Get(ctx, 99)
	require.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestQuestionBankResolve(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	byText, err := fixture.bank.Resolve(ctx, dto.ResolveQuestionRequest{Question: "  AT WHAT temperature does water boil?"})
	require.NoError(t, err)
	require.True(t, byText.Found)
	require.Equal(t, uint(2), *byText.QuestionID)
	require.Equal(t, "at what temperature does water boil?", byText.NormalizedText)

	miss, err := fixture.bank.Resolve(ctx, dto.ResolveQuestionRequest{Question: "At what temperature does water boils?"})
	require.NoError(t, err)
	require.False(t, miss.Found)
	require.Nil(t, miss.QuestionID)

	unknownID := uint(9)
	byID, err := fixture.bank.Resolve(ctx, dto.ResolveQuestionRequest{QuestionID: &unknownID, Question: "At what temperature does water boil?"})
	require.NoError(t, err)
	require.False(t, byID.Found)

	_, err = fixture.bank.Resolve(ctx, dto.ResolveQuestionRequest{})
	require.Error(t, err)
}

func TestQuestionBankImportJSONMerges(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	summary, err := fixture.bank.ImportJSON(ctx, []byte(`{
		"questions": [
			{"id": 5, "question": "What is H2O commonly called?", "correct_answer": "Water"},
			{"id": 1, "question": "What gas do plants absorb for photosynthesis?", "correct_answer": "Carbon dioxide"}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Imported)
	require.Equal(t, 4, summary.Total)
	require.False(t, summary.Replaced)

	resolved, err := fixture.bank.Resolve(ctx, dto.ResolveQuestionRequest{Question: "what is h2o commonly called?"})
	require.NoError(t, err)
	require.Equal(t, uint(5), *resolved.QuestionID)

	answer, err := fixture.holder.Current().AnswerTextFor(1)
	require.NoError(t, err)
	require.Equal(t, "Carbon dioxide", answer)

	reloaded, err := fixture.bank.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, reloaded)
}

func TestQuestionBankImportJSONReplaceUsesPositions(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)

	summary, err := fixture.bank.ImportJSON(context.Background(), []byte(`{
		"replace": true,
		"questions": [
			{"question": "What is the chemical symbol for gold?", "correct_answer": "Au"},
			{"question": "What planet is known as the red planet?", "correct_answer": "Mars"}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)

	idx := fixture.holder.Current()
	require.Equal(t, []uint{0, 1}, idx.IDs())
	text, err := idx.NormalizedTextFor(1)
	require.NoError(t, err)
	require.Equal(t, "what planet is known as the red planet?", text)
}

func TestQuestionBankImportJSONRejectsInvalidPayloads(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	cases := map[string]string{
		"not json":         `{"questions": [`,
		"missing answer":   `{"questions": [{"question": "q"}]}`,
		"empty list":       `{"questions": []}`,
		"unknown field":    `{"questions": [{"question": "q", "correct_answer": "a", "extra": 1}]}`,
		"negative id":      `{"questions": [{"id": -1, "question": "q", "correct_answer": "a"}]}`,
		"stopword answer":  `{"questions": [{"id": 7, "question": "Which words are articles?", "correct_answer": "a, an, the"}]}`,
		"markup answer":    `{"questions": [{"id": 8, "question": "What is shown?", "correct_answer": "<b>42</b>"}]}`,
		"blank after trim": `{"questions": [{"question": "   ", "correct_answer": "a"}]}`,
	}

	for name, payload := range cases {
		_, err := fixture.bank.ImportJSON(ctx, []byte(payload))
		require.ErrorIs(t, err, ErrInvalidImport, name)
	}

	require.Equal(t, 3, fixture.holder.Current().Len())
}

func TestQuestionBankImportRejectsAnswerWithoutGradableWords(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)

	_, err := fixture.bank.ImportJSON(context.Background(), []byte(`{"questions": [
		{"id": 5, "question": "What is H2O commonly called?", "correct_answer": "Water"},
		{"id": 6, "question": "Which is it?", "correct_answer": "Both of them"}
	]}`))
	require.ErrorIs(t, err, ErrInvalidImport)
	require.ErrorContains(t, err, "row 2")
	require.Equal(t, 3, fixture.holder.Current().Len())

	var stored int64
	require.NoError(t, fixture.db.Model(&models.Question{}).Count(&stored).Error)
	require.Equal(t, int64(3), stored)
}

func TestQuestionBankImportAcceptsSharedQuestionText(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})
	fixture.importSample(t)
	ctx := context.Background()

	summary, err := fixture.bank.ImportJSON(ctx, []byte(`{"questions": [
		{"id": 7, "question": "what is the  powerhouse of the CELL?", "correct_answer": "Mitochondrion"}
	]}`))
	require.NoError(t, err)
	require.Equal(t, 4, summary.Total)

	idx := fixture.holder.Current()
	id, ok := idx.Resolve(questionbank.ByText("What is the powerhouse of the cell?"))
	require.True(t, ok)
	require.Equal(t, uint(0), id)
	answer, err := idx.AnswerTextFor(7)
	require.NoError(t, err)
	require.Equal(t, "Mitochondrion", answer)
	require.Equal(t, []questionbank.Duplicate{{ID: 7, KeptID: 0, Text: "what is the powerhouse of the cell?"}}, idx.Duplicates())

	reloaded, err := fixture.bank.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, reloaded)
}

func TestQuestionBankImportFile(t *testing.T) {
	fixture := newGraderFixture(t, GradingOptions{})

	payload := "question,distractor3,correct_answer\n" +
		"What is the chemical symbol for gold?,Ag,Au\n" +
		"What planet is known as the red planet?,Venus,Mars\n"

	summary, err := fixture.bank.ImportFile(context.Background(), "sciq.csv", []byte(payload))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Imported)

	answer, err := fixture.holder.Current().AnswerTextFor(0)
	require.NoError(t, err)
	require.Equal(t, "Au", answer)
}
