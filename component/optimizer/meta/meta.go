package meta

import (
	"encoding/json"
	"fmt"
)

// Dimension is a monitored dimension the optimizer can find a
// bottleneck in. The declaration order is also the tie-break order when
// two bottlenecks have the same impact score.
type Dimension int

const (
	DimensionQuery Dimension = iota
	DimensionCache
	DimensionCPU
	DimensionMemory
)

func (d Dimension) String() string {
	switch d {
	case DimensionQuery:
		return "query"
	case DimensionCache:
		return "cache"
	case DimensionCPU:
		return "cpu"
	case DimensionMemory:
		return "memory"
	default:
		return fmt.Sprintf("dimension(%d)", int(d))
	}
}

// Bottleneck is a dimension currently over its configured target,
// ranked by how far over target it is.
type Bottleneck struct {
	Dimension   Dimension `json:"dimension"`
	Current     float64   `json:"current"`
	Target      float64   `json:"target"`
	ImpactScore float64   `json:"impact_score"`
}

type RecommendationType string

const (
	TypeQuery    RecommendationType = "query"
	TypeIndex    RecommendationType = "index"
	TypeCache    RecommendationType = "cache"
	TypeResource RecommendationType = "resource"
	TypeConfig   RecommendationType = "config"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Params carries the strongly typed parameters of one recommendation
// type. Dispatch over the concrete types is exhaustive; the JSON blob
// persisted alongside a record is only a forward-compatibility escape
// hatch and is never re-parsed to compute anything.
type Params interface {
	Kind() RecommendationType
}

type IndexParams struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

func (IndexParams) Kind() RecommendationType { return TypeIndex }

type QueryRewriteParams struct {
	SlowQueryCount int64   `json:"slow_query_count"`
	AvgTimeMs      float64 `json:"avg_time_ms"`
}

func (QueryRewriteParams) Kind() RecommendationType { return TypeQuery }

type CacheParams struct {
	CurrentHitRate float64 `json:"current_hit_rate"`
	TargetHitRate  float64 `json:"target_hit_rate"`
}

func (CacheParams) Kind() RecommendationType { return TypeCache }

type ResourceParams struct {
	Operation  string  `json:"operation"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

func (ResourceParams) Kind() RecommendationType { return TypeResource }

type ConfigParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (ConfigParams) Kind() RecommendationType { return TypeConfig }

// Recommendation is a single typed optimization suggestion produced by
// bottleneck analysis.
type Recommendation struct {
	Type                   RecommendationType `json:"type"`
	Priority               Priority           `json:"priority"`
	Description            string             `json:"description"`
	EstimatedImprovementPct float64           `json:"estimated_improvement_pct"`
	Complexity             Complexity         `json:"complexity"`
	AutoImplementable      bool               `json:"auto_implementable"`
	Params                 Params             `json:"-"`
}

// ParamsJSON renders the typed params as the persisted details blob.
func (r *Recommendation) ParamsJSON() string {
	if r.Params == nil {
		return "{}"
	}
	data, err := json.Marshal(r.Params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Record is one row of the append-only optimization_records audit
// trail: a recommendation plus the outcome of acting on it.
type Record struct {
	ID                     int64              `json:"id"`
	Timestamp              int64              `json:"timestamp"`
	Type                   RecommendationType `json:"type"`
	Priority               Priority           `json:"priority"`
	Description            string             `json:"description"`
	EstimatedImprovementPct float64           `json:"estimated_improvement_pct"`
	Success                bool               `json:"success"`
	ActualImprovementPct   float64            `json:"actual_improvement_pct"`
	ImplementationTimeMs   float64            `json:"implementation_time_ms"`
	Error                  string             `json:"error"`
	Details                string             `json:"details"`
}

// Effectiveness aggregates the record history for one recommendation
// type.
type Effectiveness struct {
	Type                RecommendationType `json:"type"`
	Total               int64              `json:"total"`
	Succeeded           int64              `json:"succeeded"`
	SuccessRate         float64            `json:"success_rate"`
	EstimatedImprovement float64           `json:"estimated_improvement_pct"`
}
