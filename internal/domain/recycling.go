package domain

import "time"

// RecyclableItem is a single classified or manually entered recyclable input.
// Type is matched against the canonical material keys; unknown types are
// reported as warnings by the estimator, never as fatal errors.
type RecyclableItem struct {
	Type       string
	Count      int
	Confidence *float64
}

// MaterialCoefficient holds the per-material constants used to convert item
// counts into weight and carbon-savings estimates.
type MaterialCoefficient struct {
	AvgUnitWeightKg         float64
	CarbonFactorKgCO2ePerKg float64
}

// AnalyzedItem is one aggregated line of an impact report.
type AnalyzedItem struct {
	Type              string
	Count             int
	EstimatedWeightKg float64
	Confidence        *float64
}

// ImpactReport is the immutable output of the impact estimator. It is
// recomputed on every call and never persisted as a mutable entity.
type ImpactReport struct {
	Items                  []AnalyzedItem
	TotalEstimatedWeightKg float64
	EstimatedCarbonSavedKg float64
	Warnings               []string
}

// SubmissionStatus enumerates lifecycle states for recycling submissions.
type SubmissionStatus string

const (
	// SubmissionStatusConfirmed indicates the user accepted the estimate and points were awarded.
	SubmissionStatusConfirmed SubmissionStatus = "confirmed"
	// SubmissionStatusRejected indicates an operator voided the submission.
	SubmissionStatusRejected SubmissionStatus = "rejected"
)

// RecyclingSubmission records a confirmed recycling drop-off together with the
// impact report snapshot it was scored with.
type RecyclingSubmission struct {
	ID            string
	UserID        string
	Status        SubmissionStatus
	Items         []AnalyzedItem
	TotalWeightKg float64
	CarbonSavedKg float64
	Warnings      []string
	PointsAwarded int64
	PhotoPath     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClassifiedLabel is a raw vision-service detection before normalization.
// Labels are untrusted input and must pass the alias-table lookup.
type ClassifiedLabel struct {
	Label      string
	Count      int
	Confidence float64
}
