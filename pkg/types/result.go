package types

// ScoredID is a unit id paired with its final similarity score.
// Query cache entries hold these rather than CodeUnits.
type ScoredID struct {
	ID    int64
	Score float64
}

// SearchResult represents a single ranked hit returned to callers
type SearchResult struct {
	Unit  CodeUnit
	Score float64 // Similarity in [0, 1], higher is better
	Rank  int     // Position in result set (1-based)
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Unit.ID <= 0 {
		return ErrInvalidUnitID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 || sr.Score > 1 {
		return ErrInvalidScore
	}

	return nil
}
