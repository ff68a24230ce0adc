package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainManifest = `name: train_random_forest
entry_points:
  main:
    parameters:
      trainval_artifact: {type: path}
      rf_config: {type: path}
      max_tfidf_features: {type: int, default: "5"}
    command: [python, run.py, --trainval_artifact, "{trainval_artifact}", --rf_config, "{rf_config}", "--max_tfidf_features={max_tfidf_features}", --out, "{output_dir}"]
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0o600))
	return dir
}

func TestLoadManifestDefaultsToProcessRuntime(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, trainManifest))
	require.NoError(t, err)
	assert.Equal(t, RuntimeProcess, m.Runtime)
	assert.True(t, filepath.IsAbs(m.Dir))

	ep, err := m.EntryPoint("")
	require.NoError(t, err)
	assert.Equal(t, []string{"rf_config", "trainval_artifact"}, ep.PathParameters())

	_, err = m.EntryPoint("evaluate")
	assert.Error(t, err)
}

func TestLoadManifestValidation(t *testing.T) {
	cases := map[string]string{
		"unknown runtime":     "name: x\nruntime: vm\nentry_points: {main: {command: [echo]}}\n",
		"container w/o image": "name: x\nruntime: container\nentry_points: {main: {command: [echo]}}\n",
		"no entry points":     "name: x\n",
		"empty command":       "name: x\nentry_points: {main: {command: []}}\n",
		"undeclared token":    "name: x\nentry_points: {main: {command: [echo, \"{nope}\"]}}\n",
		"unknown field":       "name: x\nentrypoints: {}\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadManifest(t.TempDir())
	assert.Error(t, err, "missing manifest")
}

func TestEntryPointBindAndRender(t *testing.T) {
	m, err := LoadManifest(writeManifest(t, trainManifest))
	require.NoError(t, err)
	ep, err := m.EntryPoint("main")
	require.NoError(t, err)

	bound, err := ep.Bind(map[string]string{"trainval_artifact": "/a/trainval.csv", "rf_config": "/tmp/rf.json"})
	require.NoError(t, err)
	assert.Equal(t, "5", bound["max_tfidf_features"])

	bound[PlaceholderOutputDir] = "/out"
	cmd, err := ep.Render(bound)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"python", "run.py",
		"--trainval_artifact", "/a/trainval.csv",
		"--rf_config", "/tmp/rf.json",
		"--max_tfidf_features=5",
		"--out", "/out",
	}, cmd)

	_, err = ep.Bind(map[string]string{"rf_config": "x"})
	assert.ErrorContains(t, err, "trainval_artifact")

	_, err = ep.Bind(map[string]string{"trainval_artifact": "a", "rf_config": "b", "stray": "c"})
	assert.ErrorContains(t, err, "stray")

	_, err = ep.Render(map[string]string{"trainval_artifact": "a"})
	assert.Error(t, err)
}
