package model

// HealthStatus is the overall verdict of a dataset health check.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// DatasetInvalidForTakeoff is the blocking flag raised by any critical rule.
const DatasetInvalidForTakeoff = "invalid_geometry_for_takeoff"

// Severity of a single health issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthIssue is one finding of the health checker.
type HealthIssue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// LayerStat is a (layer, value) pair used in top-N diagnostics.
type LayerStat struct {
	Layer string  `json:"layer"`
	Value float64 `json:"value"`
}

// HealthReport summarizes dataset plausibility for one processed drawing set.
type HealthReport struct {
	Status        HealthStatus  `json:"status"`
	DatasetStatus string        `json:"dataset_status,omitempty"`
	BBoxDiagonalM float64       `json:"bbox_diagonal_m"`
	TotalAreaM2   float64       `json:"total_area_m2"`
	LargestAreaM2 float64       `json:"largest_area_m2"`
	TotalLengthM  float64       `json:"total_length_m"`
	TopByArea     []LayerStat   `json:"top_by_area"`
	TopByLength   []LayerStat   `json:"top_by_length"`
	Issues        []HealthIssue `json:"issues"`
}

// Invalid reports whether the dataset is blocked for automated takeoff.
func (h *HealthReport) Invalid() bool {
	return h != nil && h.DatasetStatus == DatasetInvalidForTakeoff
}
