// Package matching ranks stored badge embeddings against a query embedding.
// The search is a linear scan over every candidate; the catalog is small
// enough that no vector index is needed.
package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// DefaultThreshold is the minimum cosine similarity for a match
	DefaultThreshold = 0.85
	// DefaultTopK is how many badges an identification returns
	DefaultTopK = 3
)

// ErrEmptyVector is returned when the query embedding has no dimensions
var ErrEmptyVector = errors.New("embedding is empty")

// CosineSimilarity returns dot(a, b) / (|a| |b|), in [-1, 1]. Vectors of
// different length are an error; a zero-magnitude vector scores 0.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += a[i] * b[i]
		aMag += a[i] * a[i]
		bMag += b[i] * b[i]
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// Candidate is one stored embedding
type Candidate struct {
	BadgeID   string
	ImageID   string
	Embedding []float64
}

// Match is a candidate that cleared the threshold
type Match struct {
	BadgeID    string  `json:"badgeId"`
	ImageID    string  `json:"imageId"`
	Similarity float64 `json:"similarity"`
}

// RankStats describes a ranking pass
type RankStats struct {
	Candidates int `json:"candidates"`
	Skipped    int `json:"skipped"`
	AboveCut   int `json:"aboveCut"`
}

// Rank scores every candidate against query, keeps those with similarity at
// or above threshold, orders them best first (ties by badge then image id),
// keeps only the best image per badge and returns at most topK matches.
func Rank(query []float64, candidates []Candidate, threshold float64, topK int) ([]Match, RankStats, error) {
	stats := RankStats{Candidates: len(candidates)}
	if len(query) == 0 {
		return nil, stats, ErrEmptyVector
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	scored := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim, err := CosineSimilarity(query, c.Embedding)
		if err != nil || math.IsNaN(sim) {
			stats.Skipped++
			continue
		}
		if sim < threshold {
			continue
		}
		scored = append(scored, Match{BadgeID: c.BadgeID, ImageID: c.ImageID, Similarity: sim})
	}
	stats.AboveCut = len(scored)

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if scored[i].BadgeID != scored[j].BadgeID {
			return scored[i].BadgeID < scored[j].BadgeID
		}
		return scored[i].ImageID < scored[j].ImageID
	})

	seen := make(map[string]struct{}, len(scored))
	out := make([]Match, 0, topK)
	for _, m := range scored {
		if _, dup := seen[m.BadgeID]; dup {
			continue
		}
		seen[m.BadgeID] = struct{}{}
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	return out, stats, nil
}
