package steps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/polisai/rentalprep/pkg/runner"
)

type downloadHandler struct {
	source string
	client *http.Client
}

func (h *downloadHandler) Execute(ctx context.Context, env *runner.Environment) error {
	sample, err := env.String("sample")
	if err != nil {
		return err
	}
	name, err := env.String("artifact_name")
	if err != nil {
		return err
	}
	location := resolveSample(h.source, sample)
	dest := filepath.Join(env.OutputDir, name)

	env.Logger.Info("Downloading sample", "source", location, "artifact", name)
	var n int64
	if isHTTP(location) {
		n, err = h.fetch(ctx, location, dest)
	} else {
		n, err = copyLocal(location, dest)
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", sample, err)
	}
	return env.Run.LogMetrics(map[string]float64{"bytes": float64(n)})
}

func (h *downloadHandler) fetch(ctx context.Context, location, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return writeFile(dest, resp.Body)
}

func copyLocal(src, dest string) (int64, error) {
	//nolint:gosec // Data source is operator configuration
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return writeFile(dest, in)
}

func writeFile(dest string, r io.Reader) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// resolveSample joins sample onto source unless sample is already a URL or an absolute path.
func resolveSample(source, sample string) string {
	if isHTTP(sample) || filepath.IsAbs(sample) || source == "" {
		return sample
	}
	if isHTTP(source) {
		u, err := url.Parse(source)
		if err == nil {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(sample, "/")
			return u.String()
		}
	}
	return filepath.Join(source, sample)
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
