package services

import (
	"errors"
	"strings"

	domain "github.com/loopmarket/api/internal/domain"
)

// ErrImpactEmptyInput indicates the estimator received no usable items.
var ErrImpactEmptyInput = errors.New("impact: no usable items")

// MaterialTable resolves raw labels to canonical material keys and exposes the
// per-key coefficients used for weight and carbon estimates.
type MaterialTable interface {
	Resolve(rawLabel string) (string, bool)
	Coefficient(key string) (domain.MaterialCoefficient, bool)
}

// ImpactEstimatorDeps bundles collaborators required to construct the estimator.
type ImpactEstimatorDeps struct {
	// Materials returns the coefficient table current at call time. Hot
	// reloads swap the snapshot between calls, never during one.
	Materials func() MaterialTable
}

type impactEstimator struct {
	snapshot func() MaterialTable
}

// NewImpactEstimator wires the coefficient source into an ImpactEstimator.
func NewImpactEstimator(deps ImpactEstimatorDeps) (ImpactEstimator, error) {
	if deps.Materials == nil {
		return nil, errors.New("impact estimator: material table source is required")
	}
	return &impactEstimator{snapshot: deps.Materials}, nil
}

// Normalize maps a raw vision or manual label to its canonical material key.
func (e *impactEstimator) Normalize(rawLabel string) (string, bool) {
	return e.snapshot().Resolve(rawLabel)
}

// Aggregate groups items by resolved material key, summing counts and carrying
// the highest confidence per group. Entries with non-positive counts or blank
// types are dropped silently; unresolved labels are dropped here and surface
// as warnings from ComputeReport.
func (e *impactEstimator) Aggregate(items []RecyclableItem) []AnalyzedItem {
	analyzed, _ := aggregateItems(e.snapshot(), items)
	return analyzed
}

// ComputeReport aggregates items and totals weight and carbon savings. Unknown
// materials contribute zero to both totals and exactly one warning per
// distinct label. The only error condition is an input with nothing usable.
func (e *impactEstimator) ComputeReport(items []RecyclableItem) (ImpactReport, error) {
	usable := false
	for _, item := range items {
		if strings.TrimSpace(item.Type) != "" && item.Count > 0 {
			usable = true
			break
		}
	}
	if !usable {
		return ImpactReport{}, ErrImpactEmptyInput
	}

	table := e.snapshot()
	analyzed, warnings := aggregateItems(table, items)

	report := ImpactReport{Items: analyzed, Warnings: warnings}
	for _, item := range analyzed {
		report.TotalEstimatedWeightKg += item.EstimatedWeightKg
		coeff, ok := table.Coefficient(item.Type)
		if !ok {
			continue
		}
		report.EstimatedCarbonSavedKg += item.EstimatedWeightKg * coeff.CarbonFactorKgCO2ePerKg
	}
	return report, nil
}

func aggregateItems(table MaterialTable, items []RecyclableItem) ([]AnalyzedItem, []string) {
	type group struct {
		count      int
		confidence *float64
	}

	order := make([]string, 0, len(items))
	groups := make(map[string]*group, len(items))
	warnings := []string{}
	warned := make(map[string]bool)

	for _, item := range items {
		label := strings.TrimSpace(item.Type)
		if label == "" || item.Count <= 0 {
			continue
		}
		key, ok := table.Resolve(label)
		if !ok {
			if !warned[label] {
				warned[label] = true
				warnings = append(warnings, "unrecognized material: "+label)
			}
			continue
		}
		g, exists := groups[key]
		if !exists {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.count += item.Count
		if item.Confidence != nil {
			if g.confidence == nil || *item.Confidence > *g.confidence {
				c := *item.Confidence
				g.confidence = &c
			}
		}
	}

	analyzed := make([]AnalyzedItem, 0, len(order))
	for _, key := range order {
		coeff, ok := table.Coefficient(key)
		if !ok {
			// An alias pointing at a key without coefficients is a table
			// defect; report it like any other unresolved label.
			if !warned[key] {
				warned[key] = true
				warnings = append(warnings, "unrecognized material: "+key)
			}
			continue
		}
		g := groups[key]
		analyzed = append(analyzed, AnalyzedItem{
			Type:              key,
			Count:             g.count,
			EstimatedWeightKg: float64(g.count) * coeff.AvgUnitWeightKg,
			Confidence:        g.confidence,
		})
	}
	return analyzed, warnings
}
