// Package quality evaluates deterministic data checks on a cleaned dataset.
// The checks are a Rego policy evaluated with OPA.
package quality

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/filter"
)

//go:embed data_check.rego
var dataCheckModule string

const (
	moduleName    = "data_check.rego"
	decisionQuery = "data.rentalprep.data_check.decision"
)

// ColumnNeighbourhoodGroup holds the borough of a listing.
const ColumnNeighbourhoodGroup = "neighbourhood_group"

// RequiredColumns must be present in every checked dataset.
var RequiredColumns = []string{"id", "name", ColumnNeighbourhoodGroup, "longitude", "latitude", "price"}

// NYCNeighbourhoodGroups are the accepted values of neighbourhood_group.
var NYCNeighbourhoodGroups = []string{"Bronx", "Brooklyn", "Manhattan", "Queens", "Staten Island"}

// Thresholds parameterise the gate.
type Thresholds struct {
	MinRows             int
	MaxRows             int
	MinPrice            float64
	MaxPrice            float64
	Box                 filter.BoundingBox
	RequiredColumns     []string
	NeighbourhoodGroups []string
}

// ColumnStats summarises one numeric column.
type ColumnStats struct {
	Count   int
	Invalid int
	Min     float64
	Max     float64
}

// Summary is the evidence the gate decides on.
type Summary struct {
	Columns             []string
	Rows                int
	Price               ColumnStats
	Longitude           ColumnStats
	Latitude            ColumnStats
	NeighbourhoodGroups []string
}

// Decision is the gate verdict.
type Decision struct {
	Pass       bool
	Violations []string
}

// Err returns nil for a passing decision and an error listing every violation otherwise.
func (d Decision) Err() error {
	if d.Pass {
		return nil
	}
	return fmt.Errorf("data check failed: %s", strings.Join(d.Violations, "; "))
}

// Gate evaluates the embedded data check policy.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles the policy.
func NewGate(ctx context.Context) (*Gate, error) {
	module, err := ast.ParseModuleWithOpts(moduleName, dataCheckModule, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", moduleName, err)
	}
	prepared, err := rego.New(
		rego.Query(decisionQuery),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}
	return &Gate{query: prepared}, nil
}

// Evaluate checks summary against thresholds. reference may be nil.
func (g *Gate) Evaluate(ctx context.Context, summary Summary, reference *Summary, th Thresholds) (Decision, error) {
	th = th.withDefaults()
	input := map[string]any{
		"summary":    summaryInput(summary),
		"thresholds": thresholdsInput(th),
		"reference":  map[string]any{"rows": 0, "columns": []any{}},
	}
	if reference != nil {
		input["reference"] = summaryInput(*reference)
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.New("opa decision: policy produced no result")
	}
	payload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	pass, _ := payload["pass"].(bool)
	decision := Decision{Pass: pass}
	if raw, ok := payload["violations"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				decision.Violations = append(decision.Violations, s)
			}
		}
	}
	return decision, nil
}

// Summarize computes the gate evidence for ds.
func Summarize(ds domain.Dataset) Summary {
	s := Summary{
		Columns: append([]string(nil), ds.Columns...),
		Rows:    ds.Len(),
	}
	groups := make(map[string]struct{})
	for _, row := range ds.Rows {
		observe(&s.Price, row, filter.ColumnPrice)
		observe(&s.Longitude, row, filter.ColumnLongitude)
		observe(&s.Latitude, row, filter.ColumnLatitude)
		if g := strings.TrimSpace(row[ColumnNeighbourhoodGroup]); g != "" {
			groups[g] = struct{}{}
		}
	}
	for g := range groups {
		s.NeighbourhoodGroups = append(s.NeighbourhoodGroups, g)
	}
	sort.Strings(s.NeighbourhoodGroups)
	return s
}

func observe(stats *ColumnStats, row domain.Row, column string) {
	v, ok := filter.Numeric(row, column)
	if !ok || math.IsInf(v, 0) {
		stats.Invalid++
		return
	}
	if stats.Count == 0 || v < stats.Min {
		stats.Min = v
	}
	if stats.Count == 0 || v > stats.Max {
		stats.Max = v
	}
	stats.Count++
}

func (th Thresholds) withDefaults() Thresholds {
	if th.Box == (filter.BoundingBox{}) {
		th.Box = filter.NYCBoundingBox
	}
	if th.RequiredColumns == nil {
		th.RequiredColumns = RequiredColumns
	}
	if th.NeighbourhoodGroups == nil {
		th.NeighbourhoodGroups = NYCNeighbourhoodGroups
	}
	return th
}

func summaryInput(s Summary) map[string]any {
	return map[string]any{
		"columns":              toAnySlice(s.Columns),
		"rows":                 s.Rows,
		"price":                statsInput(s.Price),
		"longitude":            statsInput(s.Longitude),
		"latitude":             statsInput(s.Latitude),
		"neighbourhood_groups": toAnySlice(s.NeighbourhoodGroups),
	}
}

func statsInput(c ColumnStats) map[string]any {
	return map[string]any{"count": c.Count, "invalid": c.Invalid, "min": c.Min, "max": c.Max}
}

func thresholdsInput(th Thresholds) map[string]any {
	return map[string]any{
		"min_rows":             th.MinRows,
		"max_rows":             th.MaxRows,
		"min_price":            th.MinPrice,
		"max_price":            th.MaxPrice,
		"required_columns":     toAnySlice(th.RequiredColumns),
		"neighbourhood_groups": toAnySlice(th.NeighbourhoodGroups),
		"box": map[string]any{
			"longitude": map[string]any{"min": th.Box.MinLongitude, "max": th.Box.MaxLongitude},
			"latitude":  map[string]any{"min": th.Box.MinLatitude, "max": th.Box.MaxLatitude},
		},
	}
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
