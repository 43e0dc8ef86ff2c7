package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/loopmarket/api/internal/platform/httpx"
	"github.com/loopmarket/api/internal/platform/materials"
)

// PublicHandlers serves unauthenticated catalog-style endpoints.
type PublicHandlers struct {
	materials func() *materials.Table
}

// NewPublicHandlers constructs a new PublicHandlers instance. The snapshot
// function must return the current coefficient table.
func NewPublicHandlers(snapshot func() *materials.Table) *PublicHandlers {
	return &PublicHandlers{materials: snapshot}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/materials", h.listMaterials)
}

type materialPayload struct {
	Key                     string  `json:"key"`
	AvgUnitWeightKg         float64 `json:"avg_unit_weight_kg"`
	CarbonFactorKgCO2ePerKg float64 `json:"carbon_factor_kg_co2e_per_kg"`
}

type materialListResponse struct {
	Items []materialPayload `json:"items"`
}

func (h *PublicHandlers) listMaterials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.materials == nil {
		httpx.WriteError(ctx, w, httpx.NewError("materials_unavailable", "material table unavailable", http.StatusServiceUnavailable))
		return
	}
	table := h.materials()
	if table == nil {
		httpx.WriteError(ctx, w, httpx.NewError("materials_unavailable", "material table unavailable", http.StatusServiceUnavailable))
		return
	}

	keys := table.Keys()
	sort.Strings(keys)

	items := make([]materialPayload, 0, len(keys))
	for _, key := range keys {
		coeff, ok := table.Coefficient(key)
		if !ok {
			continue
		}
		items = append(items, materialPayload{
			Key:                     key,
			AvgUnitWeightKg:         coeff.AvgUnitWeightKg,
			CarbonFactorKgCO2ePerKg: coeff.CarbonFactorKgCO2ePerKg,
		})
	}

	writeJSONResponse(w, http.StatusOK, materialListResponse{Items: items})
}
