package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type memoryRecord struct {
	content  string
	vector   []float32
	metadata map[string]string
}

// Memory is an in-process Index used in tests and single-node setups
// without PostgreSQL. Search is a brute-force scan, so it is only
// suitable for small record counts.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

var _ Index = (*Memory)(nil)

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

// Upsert stores one record per id, replacing existing records.
func (m *Memory) Upsert(_ context.Context, ids, texts []string, vectors [][]float32, metadatas []map[string]string) error {
	if len(ids) != len(texts) || len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("%w: ids=%d texts=%d vectors=%d metadatas=%d",
			ErrLengthMismatch, len(ids), len(texts), len(vectors), len(metadatas))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		meta := make(map[string]string, len(metadatas[i]))
		for k, v := range metadatas[i] {
			meta[k] = v
		}
		m.records[id] = memoryRecord{content: texts[i], vector: vec, metadata: meta}
	}
	return nil
}

// Query scans all records and returns the k nearest by cosine distance.
func (m *Memory) Query(_ context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for id, rec := range m.records {
		if !metadataContains(rec.metadata, filter) {
			continue
		}
		meta := make(map[string]string, len(rec.metadata))
		for key, v := range rec.metadata {
			meta[key] = v
		}
		matches = append(matches, Match{
			ID:       id,
			Content:  rec.content,
			Metadata: meta,
			Distance: cosineDistance(vector, rec.vector),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes the given ids and returns the submitted count.
func (m *Memory) Delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return len(ids), nil
}

// IDs returns all record ids whose metadata contains every filter entry.
func (m *Memory) IDs(_ context.Context, filter map[string]string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, rec := range m.records {
		if metadataContains(rec.metadata, filter) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of records matching filter.
func (m *Memory) Count(_ context.Context, filter map[string]string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records {
		if metadataContains(rec.metadata, filter) {
			count++
		}
	}
	return count, nil
}

func metadataContains(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if got, ok := metadata[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// cosineDistance returns 1 - cosine similarity, matching pgvector's <=>
// operator. Zero-norm vectors get the maximum distance so they sort last.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
