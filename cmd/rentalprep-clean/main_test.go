package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/runner"
	"github.com/polisai/rentalprep/pkg/storage"
	"github.com/polisai/rentalprep/pkg/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "id,name,neighbourhood_group,longitude,latitude,price\n" +
	"1,a,Manhattan,-73.98,40.75,5\n" +
	"2,b,Brooklyn,-73.95,40.68,100\n" +
	"3,c,Queens,-73.80,40.72,400\n" +
	"4,d,Elsewhere,-80.00,40.72,120\n"

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func requiredFlags(input string) []string {
	return []string{
		"--input_artifact", input,
		"--output_artifact", "clean_sample.csv",
		"--output_type", "clean_sample",
		"--output_description", "Data with outliers and null values removed",
		"--min_price", "10",
		"--max_price", "350",
		"--log-level", "error",
	}
}

func TestCleanWritesToOutputDir(t *testing.T) {
	t.Setenv(runner.EnvOutputDir, "")
	dir := t.TempDir()
	input := filepath.Join(dir, "sample.csv")
	require.NoError(t, os.WriteFile(input, []byte(sampleCSV), 0o600))
	outDir := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	require.NoError(t, execute(t, append(requiredFlags(input), "--output_dir", outDir)...))

	ds, err := dataset.ReadFile(filepath.Join(outDir, "clean_sample.csv"))
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, "2", ds.Rows[0]["id"])
}

func TestCleanRegistersArtifactInStore(t *testing.T) {
	t.Setenv(runner.EnvOutputDir, "")
	dir := t.TempDir()
	artifactDir := filepath.Join(dir, "artifacts")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(
		"storage:\n  artifact_dir: %s\n  tracking_dir: %s\n", artifactDir, filepath.Join(dir, "runs"))), 0o600))

	store, err := storage.NewFileArtifactStore(artifactDir)
	require.NoError(t, err)
	raw := filepath.Join(dir, "raw.csv")
	require.NoError(t, os.WriteFile(raw, []byte(sampleCSV), 0o600))
	_, err = store.Put(context.Background(), storage.PutRequest{Name: "sample.csv", Type: "raw_data", File: raw})
	require.NoError(t, err)

	require.NoError(t, execute(t, append(requiredFlags("sample.csv:latest"), "--config", configPath)...))

	art, err := store.Get(context.Background(), domain.Ref("clean_sample.csv", domain.TagLatest))
	require.NoError(t, err)
	assert.Equal(t, "clean_sample", art.Type)
	ds, err := dataset.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestCleanMissingArtifact(t *testing.T) {
	t.Setenv(runner.EnvOutputDir, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(
		"storage:\n  artifact_dir: %s\n  tracking_dir: %s\n", filepath.Join(dir, "artifacts"), filepath.Join(dir, "runs"))), 0o600))

	err := execute(t, append(requiredFlags("sample.csv:latest"), "--config", configPath)...)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}

func TestCleanRequiresFlags(t *testing.T) {
	err := execute(t, "--input_artifact", "sample.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestCleanRejectsInvertedBounds(t *testing.T) {
	t.Setenv(runner.EnvOutputDir, "")
	args := requiredFlags("sample.csv")
	args[9] = "500"
	err := execute(t, args...)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)
}

type brokenRun struct{}

var _ tracking.Run = brokenRun{}

func (brokenRun) ID() string { return "broken" }
func (brokenRun) LogConfig(map[string]any) error { return errors.New("disk full") }
func (brokenRun) LogMetrics(map[string]float64) error { return errors.New("disk full") }
func (brokenRun) End(domain.RunStatus) error { return errors.New("disk full") }

func TestTrackingFailuresAreLoggedAsWarnings(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	logConfig(brokenRun{}, map[string]any{"min_price": 10.0}, logger)
	logMetrics(brokenRun{}, map[string]float64{"rows_out": 1}, logger)
	endRun(brokenRun{}, domain.RunFinished, logger)

	out := logs.String()
	assert.Contains(t, out, `level=WARN msg="failed to record step configuration" error="disk full"`)
	assert.Contains(t, out, `level=WARN msg="failed to record cleaning metrics" error="disk full"`)
	assert.Contains(t, out, `level=WARN msg="failed to close tracked run" error="disk full"`)
}
