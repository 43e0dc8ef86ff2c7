package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loopmarket/api/internal/domain"
)

// Table is an immutable snapshot of the material coefficient and alias data.
// Consumers must treat a Table as read-only; the Source swaps whole snapshots
// so computations never observe a partially loaded table.
type Table struct {
	Coefficients map[string]domain.MaterialCoefficient
	Aliases      map[string]string
}

// Coefficient returns the coefficient pair for a canonical material key.
func (t *Table) Coefficient(key string) (domain.MaterialCoefficient, bool) {
	coeff, ok := t.Coefficients[key]
	return coeff, ok
}

// Resolve maps a raw label to a canonical material key. Matching is
// case-insensitive and tolerant of spaces and hyphens in place of underscores.
func (t *Table) Resolve(rawLabel string) (string, bool) {
	normalized := normalizeLabel(rawLabel)
	if normalized == "" {
		return "", false
	}
	if _, ok := t.Coefficients[normalized]; ok {
		return normalized, true
	}
	if key, ok := t.Aliases[normalized]; ok {
		if _, known := t.Coefficients[key]; known {
			return key, true
		}
	}
	return "", false
}

// Keys returns the canonical material keys in the snapshot.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.Coefficients))
	for key := range t.Coefficients {
		keys = append(keys, key)
	}
	return keys
}

// Source loads the coefficient table from a JSON file or inline payload and
// exposes atomic snapshots, optionally refreshing on an interval.
type Source struct {
	path    string
	inline  string
	logger  *zap.Logger
	current atomic.Pointer[Table]
}

type tablePayload struct {
	Materials map[string]struct {
		AvgUnitWeightKg         float64 `json:"avgUnitWeightKg"`
		CarbonFactorKgCO2ePerKg float64 `json:"carbonFactorKgCO2ePerKg"`
	} `json:"materials"`
	Aliases map[string]string `json:"aliases"`
}

// NewSource constructs a Source. The inline JSON payload takes precedence over
// the file path; when neither is configured the compiled-in defaults are used.
func NewSource(path, inline string, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		path:   strings.TrimSpace(path),
		inline: strings.TrimSpace(inline),
		logger: logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current table. The returned pointer is safe to use for
// the duration of a computation even while a reload swaps in a newer table.
func (s *Source) Snapshot() *Table {
	return s.current.Load()
}

// Reload re-reads the configured source and atomically swaps the snapshot.
// On parse failure the previous snapshot stays in place.
func (s *Source) Reload() error {
	table, err := s.load()
	if err != nil {
		if s.current.Load() != nil {
			s.logger.Warn("materials: reload failed, keeping previous table", zap.Error(err))
			return err
		}
		return err
	}
	s.current.Store(table)
	return nil
}

// Run refreshes the table on the supplied interval until the context ends.
// An interval of zero disables periodic reloads.
func (s *Source) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(); err != nil {
				s.logger.Warn("materials: periodic reload failed", zap.Error(err))
			}
		}
	}
}

func (s *Source) load() (*Table, error) {
	switch {
	case s.inline != "":
		return parseTable([]byte(s.inline))
	case s.path != "":
		data, err := os.ReadFile(filepath.Clean(s.path))
		if err != nil {
			return nil, fmt.Errorf("materials: read table file %s: %w", s.path, err)
		}
		return parseTable(data)
	default:
		return defaultTable(), nil
	}
}

func parseTable(data []byte) (*Table, error) {
	var payload tablePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("materials: parse table: %w", err)
	}
	if len(payload.Materials) == 0 {
		return nil, errors.New("materials: table defines no materials")
	}

	table := &Table{
		Coefficients: make(map[string]domain.MaterialCoefficient, len(payload.Materials)),
		Aliases:      make(map[string]string, len(payload.Aliases)),
	}
	for key, entry := range payload.Materials {
		normalized := normalizeLabel(key)
		if normalized == "" {
			continue
		}
		if entry.AvgUnitWeightKg < 0 || entry.CarbonFactorKgCO2ePerKg < 0 {
			return nil, fmt.Errorf("materials: negative coefficient for %q", key)
		}
		table.Coefficients[normalized] = domain.MaterialCoefficient{
			AvgUnitWeightKg:         entry.AvgUnitWeightKg,
			CarbonFactorKgCO2ePerKg: entry.CarbonFactorKgCO2ePerKg,
		}
	}
	for alias, key := range payload.Aliases {
		normalizedAlias := normalizeLabel(alias)
		normalizedKey := normalizeLabel(key)
		if normalizedAlias == "" || normalizedKey == "" {
			continue
		}
		table.Aliases[normalizedAlias] = normalizedKey
	}
	return table, nil
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

func defaultTable() *Table {
	return &Table{
		Coefficients: map[string]domain.MaterialCoefficient{
			"plastic_bottle": {AvgUnitWeightKg: 0.025, CarbonFactorKgCO2ePerKg: 2.0},
			"glass_bottle":   {AvgUnitWeightKg: 0.4, CarbonFactorKgCO2ePerKg: 0.3},
			"aluminum_can":   {AvgUnitWeightKg: 0.015, CarbonFactorKgCO2ePerKg: 9.0},
			"steel_can":      {AvgUnitWeightKg: 0.06, CarbonFactorKgCO2ePerKg: 1.8},
			"paper":          {AvgUnitWeightKg: 0.005, CarbonFactorKgCO2ePerKg: 0.9},
			"cardboard":      {AvgUnitWeightKg: 0.15, CarbonFactorKgCO2ePerKg: 0.7},
			"plastic_bag":    {AvgUnitWeightKg: 0.007, CarbonFactorKgCO2ePerKg: 1.6},
		},
		Aliases: map[string]string{
			"pet":           "plastic_bottle",
			"pet_bottle":    "plastic_bottle",
			"water_bottle":  "plastic_bottle",
			"soda_bottle":   "plastic_bottle",
			"glass":         "glass_bottle",
			"wine_bottle":   "glass_bottle",
			"beer_bottle":   "glass_bottle",
			"aluminium_can": "aluminum_can",
			"soda_can":      "aluminum_can",
			"beverage_can":  "aluminum_can",
			"tin_can":       "steel_can",
			"food_can":      "steel_can",
			"newspaper":     "paper",
			"magazine":      "paper",
			"office_paper":  "paper",
			"cardboard_box": "cardboard",
			"carton":        "cardboard",
			"grocery_bag":   "plastic_bag",
		},
	}
}
