// Package steps implements the built-in pipeline steps run in-process by the
// step runner under builtin:// locators.
package steps

import (
	"log/slog"
	"net/http"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/quality"
	"github.com/polisai/rentalprep/pkg/runner"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies are shared by the built-in handlers.
type Dependencies struct {
	// DataSource is the base URL or directory the download step reads from.
	DataSource string
	HTTPClient *http.Client
	Gate       *quality.Gate
	Logger     *slog.Logger
}

// Register binds every built-in handler under its step name.
func Register(reg *runner.Registry, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	reg.Register(string(domain.StepDownload), runner.DefaultEntryPoint, &downloadHandler{
		source: deps.DataSource,
		client: deps.HTTPClient,
	}, "get_data")
	reg.Register(string(domain.StepBasicCleaning), runner.DefaultEntryPoint, runner.HandlerFunc(basicCleaning))
	reg.Register(string(domain.StepDataCheck), runner.DefaultEntryPoint, &dataCheckHandler{gate: deps.Gate}, "check_data")
	reg.Register(string(domain.StepDataSplit), runner.DefaultEntryPoint, runner.HandlerFunc(dataSplit), "train_val_test_split")
}

// Builtins lists the steps Register provides.
func Builtins() []domain.StepID {
	return []domain.StepID{domain.StepDownload, domain.StepBasicCleaning, domain.StepDataCheck, domain.StepDataSplit}
}

// Locator returns the builtin:// locator of step.
func Locator(step domain.StepID) string {
	return runner.BuiltinScheme + string(step)
}
