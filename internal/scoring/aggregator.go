// Package scoring accumulates correct/attempted counts per module in durable
// storage so the final summary survives reloads.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/storage"
)

// scoreMap is the stored shape: module number (as a string, for JSON) to score.
type scoreMap map[string]models.ModuleScore

type Aggregator struct {
	store storage.Store
}

func NewAggregator(store storage.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Accumulate adds correct and total to the module's running score.
func (a *Aggregator) Accumulate(ctx context.Context, sequenceID string, module, correct, total int) error {
	err := storage.UpdateJSON(ctx, a.store, storage.ModuleScoresKey(sequenceID), func(m *scoreMap) error {
		if *m == nil {
			*m = make(scoreMap)
		}
		k := strconv.Itoa(module)
		s := (*m)[k]
		s.ModuleNumber = module
		s.Correct += correct
		s.Total += total
		(*m)[k] = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("scoring: accumulate module %d: %w", module, err)
	}
	return nil
}

// Scores returns the stored scores ordered by module number.
func (a *Aggregator) Scores(ctx context.Context, sequenceID string) ([]models.ModuleScore, error) {
	var m scoreMap
	if _, err := storage.GetJSON(ctx, a.store, storage.ModuleScoresKey(sequenceID), &m); err != nil {
		return nil, fmt.Errorf("scoring: load scores: %w", err)
	}
	out := make([]models.ModuleScore, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sortScores(out)
	return out, nil
}

// ReconcileTotals returns the summary view of the stored scores: each module's
// total is replaced by the authoritative value from totals when one exists,
// correct counts are kept. Modules only present in totals are reported with
// nothing correct. The stored scores are left untouched.
func (a *Aggregator) ReconcileTotals(ctx context.Context, sequenceID string, totals map[int]int) ([]models.ModuleScore, error) {
	scores, err := a.Scores(ctx, sequenceID)
	if err != nil {
		return nil, err
	}

	byModule := make(map[int]models.ModuleScore, len(scores))
	for _, s := range scores {
		byModule[s.ModuleNumber] = s
	}
	for m, total := range totals {
		if total <= 0 {
			continue
		}
		s := byModule[m]
		s.ModuleNumber = m
		s.Total = total
		byModule[m] = s
	}

	out := make([]models.ModuleScore, 0, len(byModule))
	for _, s := range byModule {
		out = append(out, s)
	}
	sortScores(out)
	return out, nil
}

// Clear removes the stored scores of the sequence.
func (a *Aggregator) Clear(ctx context.Context, sequenceID string) error {
	if err := a.store.Remove(ctx, storage.ModuleScoresKey(sequenceID)); err != nil {
		return fmt.Errorf("scoring: clear: %w", err)
	}
	return nil
}

// Summarize totals reconciled module scores into a test summary.
func Summarize(sessionID string, modules []models.ModuleScore) models.TestSummary {
	sum := models.TestSummary{SessionID: sessionID, Modules: modules}
	for _, m := range modules {
		sum.Correct += m.Correct
		sum.Total += m.Total
	}
	if sum.Total > 0 {
		sum.ScorePercent = float64(sum.Correct) / float64(sum.Total) * 100
	}
	return sum
}

func sortScores(s []models.ModuleScore) {
	sort.Slice(s, func(i, j int) bool { return s[i].ModuleNumber < s[j].ModuleNumber })
}
