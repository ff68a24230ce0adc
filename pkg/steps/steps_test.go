package steps

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var group = domain.RunGroup{Project: "nyc_airbnb", Group: "test", InvocationID: "inv"}

func sampleCSV(n int) string {
	var b strings.Builder
	b.WriteString("id,name,neighbourhood_group,longitude,latitude,price\n")
	boroughs := []string{"Brooklyn", "Manhattan"}
	for i := 0; i < n; i++ {
		price := 50 + i
		if i%10 == 0 {
			price = 5
		}
		fmt.Fprintf(&b, "%d,room %d,%s,-73.95,40.72,%d\n", i, i, boroughs[i%2], price)
	}
	return b.String()
}

type harness struct {
	store  *storage.FileArtifactStore
	runner *runner.StepRunner
}

func newHarness(t *testing.T, deps Dependencies) *harness {
	t.Helper()
	store, err := storage.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)
	reg := runner.NewRegistry()
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	Register(reg, deps)
	r, err := runner.New(runner.Options{Store: store, Registry: reg, Logger: deps.Logger, TempDir: t.TempDir()})
	require.NoError(t, err)
	return &harness{store: store, runner: r}
}

func (h *harness) run(t *testing.T, step domain.StepID, params map[string]any, outputs ...runner.OutputSpec) ([]domain.Artifact, error) {
	t.Helper()
	return h.runner.Run(context.Background(), runner.Invocation{
		Step:      step,
		Component: Locator(step),
		Params:    params,
		Outputs:   outputs,
		Group:     group,
	})
}

func TestDownloadFromDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "sample1.csv"), []byte(sampleCSV(4)), 0o600))
	h := newHarness(t, Dependencies{DataSource: src})

	arts, err := h.run(t, domain.StepDownload, map[string]any{
		"sample":               "sample1.csv",
		"artifact_name":        "sample.csv",
		"artifact_type":        "raw_data",
		"artifact_description": "Raw file as downloaded",
	}, runner.OutputSpec{Name: "sample.csv", Type: "raw_data"})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "raw_data", arts[0].Type)
}

func TestDownloadOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/sample2.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, sampleCSV(3))
	}))
	defer srv.Close()

	h := newHarness(t, Dependencies{DataSource: srv.URL + "/data/", HTTPClient: srv.Client()})
	arts, err := h.run(t, domain.StepDownload, map[string]any{"sample": "sample2.csv", "artifact_name": "sample.csv"},
		runner.OutputSpec{Name: "sample.csv"})
	require.NoError(t, err)

	ds, err := dataset.ReadFile(arts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	_, err = h.run(t, domain.StepDownload, map[string]any{"sample": "missing.csv", "artifact_name": "sample.csv"},
		runner.OutputSpec{Name: "sample.csv"})
	assert.ErrorContains(t, err, "404")
}

func TestResolveSample(t *testing.T) {
	assert.Equal(t, "https://host/data/s.csv", resolveSample("https://host/data", "s.csv"))
	assert.Equal(t, "https://other/s.csv", resolveSample("/srv", "https://other/s.csv"))
	assert.Equal(t, filepath.Join("/srv", "s.csv"), resolveSample("/srv", "s.csv"))
	assert.Equal(t, "s.csv", resolveSample("", "s.csv"))
}

func putFile(t *testing.T, store storage.ArtifactStore, name, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	_, err := store.Put(context.Background(), storage.PutRequest{Name: name, File: path})
	require.NoError(t, err)
}

func TestBasicCleaningStep(t *testing.T) {
	h := newHarness(t, Dependencies{})
	putFile(t, h.store, "sample.csv", sampleCSV(20))

	arts, err := h.run(t, domain.StepBasicCleaning, map[string]any{
		"input_artifact":     domain.Ref("sample.csv", domain.TagLatest),
		"output_artifact":    "clean_sample.csv",
		"output_type":        "clean_sample",
		"output_description": "Data with outliers and null values removed",
		"min_price":          10.0,
		"max_price":          350.0,
	}, runner.OutputSpec{Name: "clean_sample.csv", Type: "clean_sample"})
	require.NoError(t, err)

	ds, err := dataset.ReadFile(arts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, 18, ds.Len())
}

func TestDataCheckStep(t *testing.T) {
	h := newHarness(t, Dependencies{})
	putFile(t, h.store, "clean_sample.csv", "id,name,neighbourhood_group,longitude,latitude,price\n1,a,Brooklyn,-73.95,40.72,100\n2,b,Queens,-73.90,40.70,80\n")
	_, err := h.store.SetAlias(context.Background(), domain.Ref("clean_sample.csv", "v0"), "reference")
	require.NoError(t, err)

	params := map[string]any{
		"csv":          domain.Ref("clean_sample.csv", domain.TagLatest),
		"ref":          domain.Ref("clean_sample.csv", "reference"),
		"kl_threshold": 0.2,
		"ks_alpha":     0.05,
		"min_price":    10.0,
		"max_price":    350.0,
		"min_rows":     1,
		"max_rows":     1000,
	}
	_, err = h.run(t, domain.StepDataCheck, params)
	require.NoError(t, err)

	params["min_rows"] = 5
	_, err = h.run(t, domain.StepDataCheck, params)
	assert.ErrorIs(t, err, domain.ErrStepFailed)
	assert.ErrorContains(t, err, "row count 2 below minimum 5")
}

func TestDataCheckWithoutReferenceAlias(t *testing.T) {
	h := newHarness(t, Dependencies{})
	putFile(t, h.store, "clean_sample.csv", sampleCSV(2))

	_, err := h.run(t, domain.StepDataCheck, map[string]any{
		"csv": domain.Ref("clean_sample.csv", domain.TagLatest),
		"ref": domain.Ref("clean_sample.csv", "reference"),
	})
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestDataSplitStep(t *testing.T) {
	h := newHarness(t, Dependencies{})
	putFile(t, h.store, "clean_sample.csv", sampleCSV(40))

	arts, err := h.run(t, domain.StepDataSplit, map[string]any{
		"input_artifact": domain.Ref("clean_sample.csv", domain.TagLatest),
		"test_size":      0.25,
		"val_size":       0.2,
		"random_seed":    42,
		"stratify_by":    "neighbourhood_group",
	}, runner.OutputSpec{Name: TrainValArtifact}, runner.OutputSpec{Name: TestArtifact})
	require.NoError(t, err)
	require.Len(t, arts, 2)

	trainVal, err := dataset.ReadFile(arts[0].Path)
	require.NoError(t, err)
	test, err := dataset.ReadFile(arts[1].Path)
	require.NoError(t, err)
	assert.Equal(t, 30, trainVal.Len())
	assert.Equal(t, 10, test.Len())
}

func TestSplitIsStratifiedAndDeterministic(t *testing.T) {
	ds, err := dataset.Read(strings.NewReader(sampleCSV(100)))
	require.NoError(t, err)

	trainVal, test, err := Split(ds, 0.2, 7, "neighbourhood_group")
	require.NoError(t, err)
	assert.Equal(t, 80, trainVal.Len())
	assert.Equal(t, 20, test.Len())

	perGroup := map[string]int{}
	for _, row := range test.Rows {
		perGroup[row["neighbourhood_group"]]++
	}
	assert.Equal(t, map[string]int{"Brooklyn": 10, "Manhattan": 10}, perGroup)

	_, again, err := Split(ds, 0.2, 7, "neighbourhood_group")
	require.NoError(t, err)
	assert.Equal(t, test.Rows, again.Rows)

	seen := map[string]bool{}
	for _, row := range append(append([]domain.Row{}, trainVal.Rows...), test.Rows...) {
		assert.False(t, seen[row["id"]], "row %s appears twice", row["id"])
		seen[row["id"]] = true
	}
	assert.Len(t, seen, 100)
}

func TestSplitValidation(t *testing.T) {
	ds, err := dataset.Read(strings.NewReader(sampleCSV(10)))
	require.NoError(t, err)

	for _, size := range []float64{0, 1, -0.1, 1.5} {
		_, _, err := Split(ds, size, 1, noStratification)
		assert.Error(t, err, "test_size %g", size)
	}
	_, _, err = Split(ds, 0.3, 1, "room_type")
	assert.ErrorContains(t, err, "room_type")

	_, test, err := Split(ds, 0.3, 1, noStratification)
	require.NoError(t, err)
	assert.Equal(t, 3, test.Len())
}
