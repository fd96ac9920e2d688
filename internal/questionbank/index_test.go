package questionbank

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

func sampleEntries() []Entry {
	return []Entry{
		{ID: 0, NormalizedText: "What is the powerhouse of the cell?", ReferenceAnswer: "mitochondria", Embedding: []float32{1, 0, 0}},
		{ID: 1, NormalizedText: "what gas do plants absorb?", ReferenceAnswer: "carbon dioxide", Embedding: []float32{0, 1, 0}},
		{ID: 7, NormalizedText: "  What  is H2O? ", ReferenceAnswer: "water", Embedding: []float32{0, 0, 1}},
	}
}

func TestResolveByIDIsIdentity(t *testing.T) {
	idx, err := Build(sampleEntries())
	require.NoError(t, err)

	for _, id := range idx.IDs() {
		got, ok := idx.Resolve(ByID(id))
		require.True(t, ok)
		require.Equal(t, id, got)
	}

	_, ok := idx.Resolve(ByID(42))
	require.False(t, ok)
}

func TestResolveByTextExactMatch(t *testing.T) {
	idx, err := Build(sampleEntries())
	require.NoError(t, err)

	id, ok := idx.Resolve(ByText("what is the powerhouse of the cell?"))
	require.True(t, ok)
	require.Equal(t, uint(0), id)

	id, ok = idx.Resolve(ByText("  WHAT IS H2O?\n"))
	require.True(t, ok)
	require.Equal(t, uint(7), id)

	_, ok = idx.Resolve(ByText("what is the powerhouse of the cell"))
	require.False(t, ok, "one character difference must not match")

	_, ok = idx.Resolve(ByText("what gas do plants absorbs?"))
	require.False(t, ok)
}

func TestResolveEmptyReference(t *testing.T) {
	idx, err := Build(sampleEntries())
	require.NoError(t, err)

	_, ok := idx.Resolve(Ref{})
	require.False(t, ok)

	_, ok = idx.Resolve(ByText("   \t"))
	require.False(t, ok)
}

func TestResolvePrefersIDOverText(t *testing.T) {
	idx, err := Build(sampleEntries())
	require.NoError(t, err)

	missing := uint(99)
	_, ok := idx.Resolve(Ref{ID: &missing, Text: "what gas do plants absorb?"})
	require.False(t, ok, "an unknown id must not fall back to text")

	known := uint(1)
	id, ok := idx.Resolve(Ref{ID: &known, Text: "what is h2o?"})
	require.True(t, ok)
	require.Equal(t, uint(1), id)
}

func TestStoreLookups(t *testing.T) {
	idx, err := Build(sampleEntries())
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())
	require.Equal(t, 3, idx.Dimension())

	answer, err := idx.AnswerTextFor(1)
	require.NoError(t, err)
	require.Equal(t, "carbon dioxide", answer)

	text, err := idx.NormalizedTextFor(7)
	require.NoError(t, err)
	require.Equal(t, "what is h2o?", text)

	vector, err := idx.EmbeddingFor(0)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0, 0}, vector)

	vector[0] = 5
	again, err := idx.EmbeddingFor(0)
	require.NoError(t, err)
	require.Equal(t, float32(1), again[0], "returned vectors must not alias the index")

	_, err = idx.AnswerTextFor(3)
	require.ErrorIs(t, err, ErrQuestionNotFound)
	_, err = idx.EmbeddingFor(3)
	require.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestBuildRejectsInconsistentEntries(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
	}{
		{name: "duplicate_id", entries: []Entry{
			{ID: 1, NormalizedText: "a", ReferenceAnswer: "x", Embedding: []float32{1}},
			{ID: 1, NormalizedText: "b", ReferenceAnswer: "y", Embedding: []float32{1}},
		}},
		{name: "missing_embedding", entries: []Entry{
			{ID: 1, NormalizedText: "a", ReferenceAnswer: "x"},
		}},
		{name: "mixed_dimension", entries: []Entry{
			{ID: 1, NormalizedText: "a", ReferenceAnswer: "x", Embedding: []float32{1, 0}},
			{ID: 2, NormalizedText: "b", ReferenceAnswer: "y", Embedding: []float32{1}},
		}},
		{name: "empty_text", entries: []Entry{
			{ID: 1, NormalizedText: "  ", ReferenceAnswer: "x", Embedding: []float32{1}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.entries)
			require.ErrorIs(t, err, ErrInvalidEntry)
		})
	}
}

func TestBuildKeepsFirstIDForSharedText(t *testing.T) {
	idx, err := Build([]Entry{
		{ID: 0, NormalizedText: "What is DNA?", ReferenceAnswer: "deoxyribonucleic acid", Embedding: []float32{1, 0}},
		{ID: 1, NormalizedText: "what is  dna?", ReferenceAnswer: "genetic material", Embedding: []float32{0, 1}},
		{ID: 2, NormalizedText: "what is rna?", ReferenceAnswer: "ribonucleic acid", Embedding: []float32{1, 1}},
	})
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())

	id, ok := idx.Resolve(ByText("WHAT IS DNA?"))
	require.True(t, ok)
	require.Equal(t, uint(0), id)

	id, ok = idx.Resolve(ByID(1))
	require.True(t, ok)
	require.Equal(t, uint(1), id)
	answer, err := idx.AnswerTextFor(1)
	require.NoError(t, err)
	require.Equal(t, "genetic material", answer)

	require.Equal(t, []Duplicate{{ID: 1, KeptID: 0, Text: "what is dna?"}}, idx.Duplicates())
	require.Nil(t, mustBuild(t, sampleEntries()).Duplicates())
}

func mustBuild(t *testing.T, entries []Entry) *Index {
	t.Helper()
	idx, err := Build(entries)
	require.NoError(t, err)
	return idx
}

func TestHolderStoreWarnsAboutSharedText(t *testing.T) {
	var logs bytes.Buffer
	holder := NewHolder(nil, zerolog.New(&logs))

	holder.Store(mustBuild(t, []Entry{
		{ID: 4, NormalizedText: "name the red planet", ReferenceAnswer: "mars", Embedding: []float32{1}},
		{ID: 9, NormalizedText: "Name the  red planet", ReferenceAnswer: "mars", Embedding: []float32{1}},
	}))

	require.Equal(t, 2, holder.Current().Len())
	require.Contains(t, logs.String(), "duplicate question text")
	require.Contains(t, logs.String(), `"question_id":9`)
	require.Contains(t, logs.String(), `"kept_id":4`)
}

type fakeSource struct {
	questions []models.Question
	err       error
}

func (f *fakeSource) ListAll(context.Context) ([]models.Question, error) {
	return f.questions, f.err
}

func TestHolderReloadSwapsSnapshot(t *testing.T) {
	q := models.Question{ID: 3, Text: "Name the red planet", NormalizedText: "name the red planet", ReferenceAnswer: "mars"}
	q.SetEmbedding([]float32{0.5, 0.5})

	src := &fakeSource{questions: []models.Question{q}}
	holder := NewHolder(src, zerolog.Nop())
	require.Equal(t, 0, holder.Current().Len())

	before := holder.Current()
	idx, err := holder.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())
	require.Same(t, idx, holder.Current())
	require.Equal(t, 0, before.Len(), "published snapshots are never mutated")

	src.err = errors.New("db down")
	_, err = holder.Reload(context.Background())
	require.Error(t, err)
	require.Same(t, idx, holder.Current(), "failed reload keeps previous snapshot")
}

func TestFromModelsPrefersLowestIDForSharedText(t *testing.T) {
	later := models.Question{ID: 8, NormalizedText: "what is dna?", ReferenceAnswer: "genetic material"}
	later.SetEmbedding([]float32{0, 1})
	earlier := models.Question{ID: 2, NormalizedText: "What is DNA?", ReferenceAnswer: "deoxyribonucleic acid"}
	earlier.SetEmbedding([]float32{1, 0})

	idx, err := FromModels([]models.Question{later, earlier})
	require.NoError(t, err)

	id, ok := idx.Resolve(ByText("what is dna?"))
	require.True(t, ok)
	require.Equal(t, uint(2), id)
	require.Equal(t, []Duplicate{{ID: 8, KeptID: 2, Text: "what is dna?"}}, idx.Duplicates())
}
