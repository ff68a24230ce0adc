package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"dagger.io/dagger"
)

// Mount points inside step containers.
const (
	ContainerSourceDir = "/src"
	ContainerWorkDir   = "/work"
)

// ContainerJob is one component command executed in an image.
type ContainerJob struct {
	Image     string
	SourceDir string
	WorkDir   string
	// OutputDir is the host directory the container's output directory is exported to.
	OutputDir string
	// ContainerOutputDir is where the command writes outputs inside the container.
	ContainerOutputDir string
	Command            []string
	Env                map[string]string
}

// ContainerRunner executes a ContainerJob to completion.
type ContainerRunner interface {
	Run(ctx context.Context, job ContainerJob) error
}

// DaggerExecutor runs container jobs through a Dagger engine.
type DaggerExecutor struct {
	logger    *slog.Logger
	logOutput io.Writer
}

// NewDaggerExecutor creates an executor. Engine progress is written to logOutput when set.
func NewDaggerExecutor(logger *slog.Logger, logOutput io.Writer) *DaggerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DaggerExecutor{logger: logger, logOutput: logOutput}
}

// Run connects to the engine, executes the command and exports the output directory.
func (d *DaggerExecutor) Run(ctx context.Context, job ContainerJob) error {
	var opts []dagger.ClientOpt
	if d.logOutput != nil {
		opts = append(opts, dagger.WithLogOutput(d.logOutput))
	}
	client, err := dagger.Connect(ctx, opts...)
	if err != nil {
		return fmt.Errorf("connect to container engine: %w", err)
	}
	defer client.Close()

	ctr := client.Container().From(job.Image).
		WithDirectory(ContainerSourceDir, client.Host().Directory(job.SourceDir)).
		WithDirectory(ContainerWorkDir, client.Host().Directory(job.WorkDir)).
		WithWorkdir(ContainerSourceDir)

	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctr = ctr.WithEnvVariable(k, job.Env[k])
	}

	d.logger.Info("Container started", "image", job.Image, "command", job.Command)
	ctr = ctr.WithExec(job.Command)

	stdout, err := ctr.Stdout(ctx)
	if err != nil {
		return fmt.Errorf("container %s: %w", job.Image, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line != "" {
			d.logger.Info("Container stdout", "output", line)
		}
	}

	if _, err := ctr.Directory(job.ContainerOutputDir).Export(ctx, job.OutputDir); err != nil {
		return fmt.Errorf("export container outputs: %w", err)
	}
	d.logger.Info("Container finished", "image", job.Image)
	return nil
}
