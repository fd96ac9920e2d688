// Package questionbank holds the read-only question index used at grading time: reference
// answers, their embeddings and normalized question texts, all keyed by question id.
package questionbank

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/gema-grader/internal/models"
)

var (
	// ErrQuestionNotFound indicates the id is not part of the index.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidEntry indicates an entry cannot be indexed.
	ErrInvalidEntry = errors.New("invalid question entry")
)

// Entry is one indexed question. All three grading mappings travel together.
type Entry struct {
	ID              uint
	NormalizedText  string
	ReferenceAnswer string
	Embedding       []float32
}

// Ref identifies a question either by id or by raw question text.
type Ref struct {
	ID   *uint
	Text string
}

// ByID builds an id reference.
func ByID(id uint) Ref {
	return Ref{ID: &id}
}

// ByText builds a text reference.
func ByText(text string) Ref {
	return Ref{Text: text}
}

// IsZero reports whether the reference carries neither an id nor any text.
func (r Ref) IsZero() bool {
	return r.ID == nil && strings.TrimSpace(r.Text) == ""
}

// String renders the reference for logs and error records.
func (r Ref) String() string {
	if r.ID != nil {
		return fmt.Sprintf("%d", *r.ID)
	}
	return r.Text
}

// Duplicate records a question whose normalized text was already taken by an earlier
// entry. The question stays reachable by id; text lookups return KeptID.
type Duplicate struct {
	ID     uint
	KeptID uint
	Text   string
}

// Index is an immutable snapshot of the question bank.
type Index struct {
	entries    map[uint]Entry
	byText     map[string]uint
	duplicates []Duplicate
	dimension  int
}

// NormalizeQuestion lowercases and collapses whitespace. Stored texts and lookups both use it.
func NormalizeQuestion(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Build validates the entries and returns an index over them. Every entry must carry a
// unique id, a non-empty normalized text and an embedding of the same dimension. When two
// entries share a normalized text, the first one in entries answers text lookups and the
// later ones are reported by Duplicates.
func Build(entries []Entry) (*Index, error) {
	idx := &Index{
		entries: make(map[uint]Entry, len(entries)),
		byText:  make(map[string]uint, len(entries)),
	}

	for _, entry := range entries {
		if _, exists := idx.entries[entry.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %d", ErrInvalidEntry, entry.ID)
		}
		if len(entry.Embedding) == 0 {
			return nil, fmt.Errorf("%w: question %d has no embedding", ErrInvalidEntry, entry.ID)
		}
		if idx.dimension == 0 {
			idx.dimension = len(entry.Embedding)
		} else if len(entry.Embedding) != idx.dimension {
			return nil, fmt.Errorf("%w: question %d has dimension %d, expected %d", ErrInvalidEntry, entry.ID, len(entry.Embedding), idx.dimension)
		}

		text := NormalizeQuestion(entry.NormalizedText)
		if text == "" {
			return nil, fmt.Errorf("%w: question %d has empty text", ErrInvalidEntry, entry.ID)
		}
		vector := make([]float32, len(entry.Embedding))
		copy(vector, entry.Embedding)

		idx.entries[entry.ID] = Entry{
			ID:              entry.ID,
			NormalizedText:  text,
			ReferenceAnswer: entry.ReferenceAnswer,
			Embedding:       vector,
		}
		if kept, exists := idx.byText[text]; exists {
			idx.duplicates = append(idx.duplicates, Duplicate{ID: entry.ID, KeptID: kept, Text: text})
			continue
		}
		idx.byText[text] = entry.ID
	}

	return idx, nil
}

// FromModels builds an index from persisted questions. Entries are indexed in id order,
// so among questions sharing a text the lowest id answers text lookups.
func FromModels(questions []models.Question) (*Index, error) {
	entries := make([]Entry, 0, len(questions))
	for _, q := range questions {
		vector, err := q.Vector()
		if err != nil {
			return nil, fmt.Errorf("%w: question %d embedding: %v", ErrInvalidEntry, q.ID, err)
		}
		entries = append(entries, Entry{
			ID:              q.ID,
			NormalizedText:  q.NormalizedText,
			ReferenceAnswer: q.ReferenceAnswer,
			Embedding:       vector,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return Build(entries)
}

// Resolve maps a reference to a question id. An id is authoritative when present; text is
// only consulted when no id was given, and must match a stored normalized text exactly.
func (idx *Index) Resolve(ref Ref) (uint, bool) {
	if idx == nil {
		return 0, false
	}
	if ref.ID != nil {
		if _, ok := idx.entries[*ref.ID]; ok {
			return *ref.ID, true
		}
		return 0, false
	}

	text := NormalizeQuestion(ref.Text)
	if text == "" {
		return 0, false
	}
	id, ok := idx.byText[text]
	return id, ok
}

// AnswerTextFor returns the reference answer for id.
func (idx *Index) AnswerTextFor(id uint) (string, error) {
	entry, err := idx.entry(id)
	if err != nil {
		return "", err
	}
	return entry.ReferenceAnswer, nil
}

// EmbeddingFor returns a copy of the reference embedding for id.
func (idx *Index) EmbeddingFor(id uint) ([]float32, error) {
	entry, err := idx.entry(id)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(entry.Embedding))
	copy(out, entry.Embedding)
	return out, nil
}

// NormalizedTextFor returns the normalized question text for id.
func (idx *Index) NormalizedTextFor(id uint) (string, error) {
	entry, err := idx.entry(id)
	if err != nil {
		return "", err
	}
	return entry.NormalizedText, nil
}

// Len returns the number of indexed questions.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// Duplicates lists the entries whose normalized text was shadowed by an earlier entry.
func (idx *Index) Duplicates() []Duplicate {
	if idx == nil || len(idx.duplicates) == 0 {
		return nil
	}
	out := make([]Duplicate, len(idx.duplicates))
	copy(out, idx.duplicates)
	return out
}

// Dimension returns the embedding dimension shared by all entries, or 0 for an empty index.
func (idx *Index) Dimension() int {
	if idx == nil {
		return 0
	}
	return idx.dimension
}

// IDs returns the indexed ids in ascending order.
func (idx *Index) IDs() []uint {
	if idx == nil {
		return nil
	}
	ids := make([]uint, 0, len(idx.entries))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (idx *Index) entry(id uint) (Entry, error) {
	if idx == nil {
		return Entry{}, fmt.Errorf("%w: %d", ErrQuestionNotFound, id)
	}
	entry, ok := idx.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrQuestionNotFound, id)
	}
	return entry, nil
}
