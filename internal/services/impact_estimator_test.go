package services

import (
	"errors"
	"math"
	"testing"

	domain "github.com/loopmarket/api/internal/domain"
)

type stubMaterialTable struct {
	coefficients map[string]domain.MaterialCoefficient
	aliases      map[string]string
}

func (t *stubMaterialTable) Resolve(rawLabel string) (string, bool) {
	key := normalizeLabelForTest(rawLabel)
	if canonical, ok := t.aliases[key]; ok {
		key = canonical
	}
	if _, ok := t.coefficients[key]; !ok {
		return "", false
	}
	return key, true
}

func (t *stubMaterialTable) Coefficient(key string) (domain.MaterialCoefficient, bool) {
	coeff, ok := t.coefficients[key]
	return coeff, ok
}

func normalizeLabelForTest(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func testEstimator(t *testing.T) ImpactEstimator {
	t.Helper()
	table := &stubMaterialTable{
		coefficients: map[string]domain.MaterialCoefficient{
			"plastic_bottle": {AvgUnitWeightKg: 0.025, CarbonFactorKgCO2ePerKg: 2.0},
			"aluminum_can":   {AvgUnitWeightKg: 0.015, CarbonFactorKgCO2ePerKg: 9.0},
		},
		aliases: map[string]string{
			"pet":           "plastic_bottle",
			"water_bottle":  "plastic_bottle",
			"aluminium_can": "aluminum_can",
		},
	}
	est, err := NewImpactEstimator(ImpactEstimatorDeps{
		Materials: func() MaterialTable { return table },
	})
	if err != nil {
		t.Fatalf("new impact estimator: %v", err)
	}
	return est
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeReportWorkedExample(t *testing.T) {
	est := testEstimator(t)

	report, err := est.ComputeReport([]RecyclableItem{
		{Type: "plastic_bottle", Count: 3},
		{Type: "unknown_material", Count: 1},
	})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}

	if !almostEqual(report.TotalEstimatedWeightKg, 0.075) {
		t.Fatalf("total weight = %v, want 0.075", report.TotalEstimatedWeightKg)
	}
	if !almostEqual(report.EstimatedCarbonSavedKg, 0.15) {
		t.Fatalf("carbon saved = %v, want 0.15", report.EstimatedCarbonSavedKg)
	}
	if len(report.Warnings) != 1 || report.Warnings[0] != "unrecognized material: unknown_material" {
		t.Fatalf("warnings = %v", report.Warnings)
	}
	if len(report.Items) != 1 || report.Items[0].Type != "plastic_bottle" || report.Items[0].Count != 3 {
		t.Fatalf("items = %+v", report.Items)
	}
}

func TestComputeReportMergesDuplicateKeys(t *testing.T) {
	est := testEstimator(t)

	lowConf := 0.4
	highConf := 0.9
	report, err := est.ComputeReport([]RecyclableItem{
		{Type: "plastic_bottle", Count: 2, Confidence: &lowConf},
		{Type: "PET", Count: 3, Confidence: &highConf},
		{Type: "water bottle", Count: 1},
	})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}

	if len(report.Items) != 1 {
		t.Fatalf("expected one merged item, got %d", len(report.Items))
	}
	item := report.Items[0]
	if item.Count != 6 {
		t.Fatalf("merged count = %d, want 6", item.Count)
	}
	if !almostEqual(item.EstimatedWeightKg, 0.15) {
		t.Fatalf("merged weight = %v, want 0.15", item.EstimatedWeightKg)
	}
	if item.Confidence == nil || *item.Confidence != highConf {
		t.Fatalf("confidence = %v, want %v", item.Confidence, highConf)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", report.Warnings)
	}
}

func TestComputeReportConfidenceNeverAffectsTotals(t *testing.T) {
	est := testEstimator(t)

	tiny := 0.01
	withConf, err := est.ComputeReport([]RecyclableItem{{Type: "aluminum_can", Count: 4, Confidence: &tiny}})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}
	withoutConf, err := est.ComputeReport([]RecyclableItem{{Type: "aluminum_can", Count: 4}})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}

	if withConf.TotalEstimatedWeightKg != withoutConf.TotalEstimatedWeightKg {
		t.Fatalf("weight differs: %v vs %v", withConf.TotalEstimatedWeightKg, withoutConf.TotalEstimatedWeightKg)
	}
	if withConf.EstimatedCarbonSavedKg != withoutConf.EstimatedCarbonSavedKg {
		t.Fatalf("carbon differs: %v vs %v", withConf.EstimatedCarbonSavedKg, withoutConf.EstimatedCarbonSavedKg)
	}
}

func TestComputeReportOneWarningPerDistinctLabel(t *testing.T) {
	est := testEstimator(t)

	report, err := est.ComputeReport([]RecyclableItem{
		{Type: "styrofoam", Count: 2},
		{Type: "styrofoam", Count: 5},
		{Type: "ceramic", Count: 1},
		{Type: "plastic_bottle", Count: 1},
	})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 entries", report.Warnings)
	}
	if report.Warnings[0] != "unrecognized material: styrofoam" {
		t.Fatalf("first warning = %q", report.Warnings[0])
	}
	if report.Warnings[1] != "unrecognized material: ceramic" {
		t.Fatalf("second warning = %q", report.Warnings[1])
	}
}

func TestComputeReportAllUnknownStillReports(t *testing.T) {
	est := testEstimator(t)

	report, err := est.ComputeReport([]RecyclableItem{{Type: "styrofoam", Count: 2}})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}
	if report.TotalEstimatedWeightKg != 0 || report.EstimatedCarbonSavedKg != 0 {
		t.Fatalf("unknown material contributed to totals: %+v", report)
	}
	if len(report.Items) != 0 {
		t.Fatalf("unexpected items: %+v", report.Items)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v", report.Warnings)
	}
}

func TestComputeReportEmptyInput(t *testing.T) {
	est := testEstimator(t)

	cases := []struct {
		name  string
		items []RecyclableItem
	}{
		{name: "nil"},
		{name: "empty", items: []RecyclableItem{}},
		{name: "all dropped", items: []RecyclableItem{
			{Type: "plastic_bottle", Count: 0},
			{Type: "plastic_bottle", Count: -4},
			{Type: "   ", Count: 3},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := est.ComputeReport(tc.items)
			if !errors.Is(err, ErrImpactEmptyInput) {
				t.Fatalf("err = %v, want ErrImpactEmptyInput", err)
			}
		})
	}
}

func TestComputeReportDropsNonPositiveCounts(t *testing.T) {
	est := testEstimator(t)

	report, err := est.ComputeReport([]RecyclableItem{
		{Type: "plastic_bottle", Count: -2},
		{Type: "plastic_bottle", Count: 0},
		{Type: "aluminum_can", Count: 2},
	})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].Type != "aluminum_can" {
		t.Fatalf("items = %+v", report.Items)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("dropped entries must not warn: %v", report.Warnings)
	}
}

func TestComputeReportTotalsMatchItemSums(t *testing.T) {
	est := testEstimator(t)

	report, err := est.ComputeReport([]RecyclableItem{
		{Type: "plastic_bottle", Count: 7},
		{Type: "aluminum_can", Count: 3},
		{Type: "pet", Count: 2},
	})
	if err != nil {
		t.Fatalf("compute report: %v", err)
	}

	var sum float64
	for _, item := range report.Items {
		sum += item.EstimatedWeightKg
	}
	if !almostEqual(report.TotalEstimatedWeightKg, sum) {
		t.Fatalf("total %v != item sum %v", report.TotalEstimatedWeightKg, sum)
	}
}

func TestNormalize(t *testing.T) {
	est := testEstimator(t)

	if key, ok := est.Normalize("PET"); !ok || key != "plastic_bottle" {
		t.Fatalf("normalize PET = %q, %v", key, ok)
	}
	if _, ok := est.Normalize("styrofoam"); ok {
		t.Fatalf("styrofoam should not resolve")
	}
}

func TestAggregatePreservesInputOrder(t *testing.T) {
	est := testEstimator(t)

	items := est.Aggregate([]RecyclableItem{
		{Type: "aluminum_can", Count: 1},
		{Type: "plastic_bottle", Count: 2},
		{Type: "aluminium_can", Count: 4},
	})
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Type != "aluminum_can" || items[0].Count != 5 {
		t.Fatalf("first item = %+v", items[0])
	}
	if items[1].Type != "plastic_bottle" || items[1].Count != 2 {
		t.Fatalf("second item = %+v", items[1])
	}
}
