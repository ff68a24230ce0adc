// Package pipeline drives the ordered execution of the active steps of one
// pipeline invocation.
//
// The driver reads configuration once, derives each step's parameters from it
// and from artifact references produced by earlier steps, and invokes the
// step runner strictly sequentially. The first failure aborts the run.
package pipeline

import (
	"log/slog"
	"strings"

	"github.com/polisai/rentalprep/pkg/domain"
)

// ActiveSteps resolves the configured step selection into execution order.
//
// The literal "all" selects the canonical steps. Otherwise raw is a comma
// separated list; blanks are dropped and unknown names are logged and
// ignored. The result is always ordered by KnownSteps, so the model test step
// runs last when it is named.
func ActiveSteps(raw string, logger *slog.Logger) []domain.StepID {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(raw) == domain.AllStepsToken {
		return domain.CanonicalSteps()
	}

	requested := make(map[domain.StepID]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		id, ok := domain.ParseStepID(name)
		if !ok {
			logger.Warn("ignoring unknown step", "step", name)
			continue
		}
		requested[id] = true
	}

	active := make([]domain.StepID, 0, len(requested))
	for _, id := range domain.KnownSteps() {
		if requested[id] {
			active = append(active, id)
		}
	}
	return active
}
