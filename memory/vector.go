package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"

	"github.com/hupe1980/obsmesh/internal/util"
)

// DefaultDimensions is the vector size of the default hashed embedding.
const DefaultDimensions = 256

// VectorOptions configures a VectorStore.
type VectorOptions struct {
	// Collection name; defaults to "observations".
	Collection string
	// PersistPath enables a gob-persisted database in that directory.
	PersistPath string
	// Embedding turns text into a vector. Defaults to HashEmbedding(DefaultDimensions).
	Embedding chromem.EmbeddingFunc
}

// VectorStore is a Store backed by a chromem-go collection. Results are ranked
// by cosine similarity, which is reported as the score.
type VectorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorStore creates a vector store.
func NewVectorStore(optFns ...func(o *VectorOptions)) (*VectorStore, error) {
	opts := VectorOptions{
		Collection: "observations",
		Embedding:  HashEmbedding(DefaultDimensions),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var (
		db  *chromem.DB
		err error
	)
	if opts.PersistPath != "" {
		db, err = chromem.NewPersistentDB(opts.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(opts.Collection, nil, opts.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &VectorStore{db: db, collection: collection}, nil
}

// Store embeds content and adds it under a generated id.
func (s *VectorStore) Store(ctx context.Context, content string, metadata map[string]any) (string, error) {
	id := util.NewID()
	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: stringMetadata(metadata),
	})
	if err != nil {
		return "", fmt.Errorf("add document %s: %w", id, err)
	}
	return id, nil
}

// Search returns the limit most similar documents to query.
func (s *VectorStore) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	// chromem rejects nResults larger than the collection.
	n := min(limit, s.collection.Count())
	if n == 0 {
		return []Result{}, nil
	}

	hits, err := s.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    float64(h.Similarity),
			Metadata: anyMetadata(h.Metadata),
		})
	}
	return results, nil
}

// Delete removes a document by id.
func (s *VectorStore) Delete(ctx context.Context, id string) error {
	before := s.collection.Count()
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if s.collection.Count() == before {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Len returns the number of stored documents.
func (s *VectorStore) Len() int { return s.collection.Count() }

// HashEmbedding returns a deterministic bag-of-words embedding: each lowercase
// token is hashed into one of dims buckets and the vector is L2-normalised.
// It needs no model and is good enough for keyword-overlap recall.
func HashEmbedding(dims int) chromem.EmbeddingFunc {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dims)]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			// Empty text still needs a unit vector.
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

func stringMetadata(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func anyMetadata(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
