package pipeline

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActiveStepsAllIsCanonical(t *testing.T) {
	active := ActiveSteps("all", discardLogger())
	assert.Equal(t, domain.CanonicalSteps(), active)
	assert.NotContains(t, active, domain.StepTestRegressionModel)
}

func TestActiveStepsExplicitList(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []domain.StepID
	}{
		{
			name: "subset keeps canonical order",
			raw:  "data_split,download",
			want: []domain.StepID{domain.StepDownload, domain.StepDataSplit},
		},
		{
			name: "unknown names are ignored",
			raw:  "download,bogus_step",
			want: []domain.StepID{domain.StepDownload},
		},
		{
			name: "blanks and whitespace are ignored",
			raw:  " basic_cleaning , ,data_check,",
			want: []domain.StepID{domain.StepBasicCleaning, domain.StepDataCheck},
		},
		{
			name: "model test runs last",
			raw:  "test_regression_model,download",
			want: []domain.StepID{domain.StepDownload, domain.StepTestRegressionModel},
		},
		{
			name: "duplicates collapse",
			raw:  "download,download",
			want: []domain.StepID{domain.StepDownload},
		},
		{
			name: "nothing known selects nothing",
			raw:  "bogus",
			want: []domain.StepID{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ActiveSteps(tc.raw, discardLogger()))
		})
	}
}

func TestActiveStepsLogsUnknownNames(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ActiveSteps("download,bogus_step", logger)

	assert.Contains(t, buf.String(), "ignoring unknown step")
	assert.Contains(t, buf.String(), "bogus_step")
}

func TestActiveStepsOrderProperty(t *testing.T) {
	names := []string{"download", "basic_cleaning", "data_check", "data_split", "train_random_forest", "test_regression_model", "bogus", ""}
	rank := make(map[domain.StepID]int)
	for i, id := range domain.KnownSteps() {
		rank[id] = i
	}

	rapid.Check(t, func(t *rapid.T) {
		picked := rapid.SliceOf(rapid.SampledFrom(names)).Draw(t, "picked")
		active := ActiveSteps(strings.Join(picked, ","), discardLogger())

		for i := 1; i < len(active); i++ {
			if rank[active[i-1]] >= rank[active[i]] {
				t.Fatalf("steps out of order: %v", active)
			}
		}
		for _, id := range active {
			found := false
			for _, name := range picked {
				if name == string(id) {
					found = true
				}
			}
			if !found {
				t.Fatalf("step %s selected without being named in %v", id, picked)
			}
		}
	})
}
