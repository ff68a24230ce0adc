package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/storage"
	"github.com/polisai/rentalprep/pkg/tracking"
)

// BuiltinScheme prefixes locators of in-process handlers.
const BuiltinScheme = "builtin://"

// Options configures a StepRunner.
type Options struct {
	Store    storage.ArtifactStore
	Tracker  tracking.Tracker
	Registry *Registry
	// Container runs manifests that request the container runtime.
	// When nil such components fail with an error.
	Container ContainerRunner
	Logger    *slog.Logger
	// TempDir is the scoped directory step working directories are created in.
	TempDir string
	// Timeout bounds a single step when positive.
	Timeout time.Duration
}

// StepRunner executes one step invocation at a time.
type StepRunner struct {
	store     storage.ArtifactStore
	tracker   tracking.Tracker
	registry  *Registry
	process   *ProcessExecutor
	container ContainerRunner
	logger    *slog.Logger
	tempDir   string
	timeout   time.Duration
}

// New validates options and returns a runner.
func New(opts Options) (*StepRunner, error) {
	if opts.Store == nil {
		return nil, errors.New("runner requires an artifact store")
	}
	if opts.TempDir == "" {
		return nil, errors.New("runner requires a temp directory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = tracking.Nop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &StepRunner{
		store:     opts.Store,
		tracker:   tracker,
		registry:  registry,
		process:   NewProcessExecutor(logger),
		container: opts.Container,
		logger:    logger,
		tempDir:   opts.TempDir,
		timeout:   opts.Timeout,
	}, nil
}

// Run executes inv and returns the artifacts it registered. Unresolvable
// artifact references yield a domain.ArtifactResolutionError before the step
// starts; every other failure is a domain.StepExecutionError.
func (r *StepRunner) Run(ctx context.Context, inv Invocation) ([]domain.Artifact, error) {
	logger := r.logger.With("step", inv.Step, "component", inv.Component)

	params, artifacts, err := r.resolveParams(ctx, inv)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp(r.tempDir, string(inv.Step)+"-*")
	if err != nil {
		return nil, &domain.StepExecutionError{Step: inv.Step, Err: fmt.Errorf("create work directory: %w", err)}
	}
	defer os.RemoveAll(workDir)
	outputDir := filepath.Join(workDir, "outputs")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, &domain.StepExecutionError{Step: inv.Step, Err: fmt.Errorf("create output directory: %w", err)}
	}

	run, err := r.tracker.BeginRun(ctx, domain.RunSpec{
		Project:      inv.Group.Project,
		Group:        inv.Group.Group,
		JobType:      string(inv.Step),
		InvocationID: inv.Group.InvocationID,
	})
	if err != nil {
		return nil, &domain.StepExecutionError{Step: inv.Step, Err: fmt.Errorf("begin tracked run: %w", err)}
	}
	if err := run.LogConfig(trackedConfig(inv.Params)); err != nil {
		logger.Warn("failed to record step configuration", "error", err)
	}

	env := &Environment{
		Step:       inv.Step,
		EntryPoint: entryPointOf(inv),
		Params:     params,
		Artifacts:  artifacts,
		WorkDir:    workDir,
		OutputDir:  outputDir,
		Env:        childEnvironment(inv, workDir, outputDir),
		Logger:     logger,
		Run:        run,
	}

	logger.Info("step started", "run_id", run.ID(), "entry_point", env.EntryPoint)
	started := time.Now()

	if err := r.dispatch(ctx, inv, env); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.timeout > 0 {
			err = fmt.Errorf("step timed out after %s: %w", r.timeout, err)
		}
		r.endRun(run, domain.RunFailed, logger)
		return nil, &domain.StepExecutionError{Step: inv.Step, Err: err}
	}

	registered, err := r.registerOutputs(ctx, inv, outputDir)
	if err != nil {
		r.endRun(run, domain.RunFailed, logger)
		return nil, &domain.StepExecutionError{Step: inv.Step, Err: err}
	}

	r.endRun(run, domain.RunFinished, logger)
	logger.Info("step completed", "duration", time.Since(started), "outputs", len(registered))
	return registered, nil
}

func (r *StepRunner) resolveParams(ctx context.Context, inv Invocation) (map[string]string, map[string]domain.Artifact, error) {
	params := make(map[string]string, len(inv.Params))
	artifacts := make(map[string]domain.Artifact)

	for _, name := range sortedKeys(inv.Params) {
		value := inv.Params[name]
		ref, isRef := value.(domain.ArtifactRef)
		if !isRef {
			params[name] = FormatParam(value)
			continue
		}
		art, err := r.store.Get(ctx, ref)
		if err != nil {
			return nil, nil, &domain.ArtifactResolutionError{Step: inv.Step, Ref: ref, Err: err}
		}
		params[name] = art.Path
		artifacts[name] = art
	}
	return params, artifacts, nil
}

func (r *StepRunner) dispatch(ctx context.Context, inv Invocation, env *Environment) error {
	if name, ok := strings.CutPrefix(inv.Component, BuiltinScheme); ok {
		handler, meta, found := r.registry.Resolve(name + "@" + env.EntryPoint)
		if !found {
			return fmt.Errorf("no built-in handler %q", name+"@"+env.EntryPoint)
		}
		env.Logger.Debug("dispatching built-in handler", "handler", meta.Canonical)
		return handler.Execute(ctx, env)
	}

	manifest, err := LoadManifest(inv.Component)
	if err != nil {
		return err
	}
	ep, err := manifest.EntryPoint(env.EntryPoint)
	if err != nil {
		return err
	}
	bound, err := ep.Bind(env.Params)
	if err != nil {
		return fmt.Errorf("entry point %q: %w", env.EntryPoint, err)
	}

	if manifest.Runtime == RuntimeContainer {
		return r.runContainer(ctx, manifest, ep, bound, env)
	}

	bound[PlaceholderOutputDir] = env.OutputDir
	bound[PlaceholderWorkDir] = env.WorkDir
	command, err := ep.Render(bound)
	if err != nil {
		return err
	}
	return r.process.Run(ctx, ProcessJob{
		Command: command,
		Dir:     manifest.Dir,
		Env:     append(manifestEnv(manifest), env.Env...),
	})
}

// runContainer copies path parameters into the work directory so they are
// visible under the container's work mount.
func (r *StepRunner) runContainer(ctx context.Context, manifest *Manifest, ep EntryPointSpec, bound map[string]string, env *Environment) error {
	if r.container == nil {
		return fmt.Errorf("component %q requires the container runtime, which is not configured", manifest.Name)
	}
	inputs := filepath.Join(env.WorkDir, "inputs")
	for _, name := range ep.PathParameters() {
		host := bound[name]
		if host == "" {
			continue
		}
		staged := filepath.Join(inputs, name, filepath.Base(host))
		if err := stageFile(host, staged); err != nil {
			return fmt.Errorf("stage parameter %q: %w", name, err)
		}
		bound[name] = ContainerWorkDir + "/inputs/" + name + "/" + filepath.Base(host)
	}

	containerOutputs := ContainerWorkDir + "/outputs"
	bound[PlaceholderOutputDir] = containerOutputs
	bound[PlaceholderWorkDir] = ContainerWorkDir
	command, err := ep.Render(bound)
	if err != nil {
		return err
	}

	vars := make(map[string]string, len(manifest.Env)+len(env.Env))
	for k, v := range manifest.Env {
		vars[k] = v
	}
	for _, kv := range env.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	vars[EnvOutputDir] = containerOutputs
	vars[EnvWorkDir] = ContainerWorkDir

	return r.container.Run(ctx, ContainerJob{
		Image:              manifest.Image,
		SourceDir:          manifest.Dir,
		WorkDir:            env.WorkDir,
		OutputDir:          env.OutputDir,
		ContainerOutputDir: containerOutputs,
		Command:            command,
		Env:                vars,
	})
}

// registerOutputs publishes declared outputs only when all of them exist,
// and registers them as one batch so a failed step leaves no partial set.
func (r *StepRunner) registerOutputs(ctx context.Context, inv Invocation, outputDir string) ([]domain.Artifact, error) {
	reqs := make([]storage.PutRequest, 0, len(inv.Outputs))
	for _, out := range inv.Outputs {
		file := filepath.Join(outputDir, out.Name)
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("declared output %q was not produced", out.Name)
		}
		reqs = append(reqs, storage.PutRequest{
			Name:        out.Name,
			Type:        out.Type,
			Description: out.Description,
			File:        file,
			Metadata: map[string]string{
				"step":          string(inv.Step),
				"run_group":     inv.Group.Group,
				"invocation_id": inv.Group.InvocationID,
			},
		})
	}
	if len(reqs) == 0 {
		return []domain.Artifact{}, nil
	}

	registered, err := r.store.PutAll(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("register outputs: %w", err)
	}
	for _, art := range registered {
		r.logger.Info("artifact registered", "step", inv.Step, "artifact", art.Ref().String(), "digest", art.Digest)
	}
	return registered, nil
}

func (r *StepRunner) endRun(run tracking.Run, status domain.RunStatus, logger *slog.Logger) {
	if err := run.End(status); err != nil {
		logger.Warn("failed to close tracked run", "error", err)
	}
}

func entryPointOf(inv Invocation) string {
	if inv.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return inv.EntryPoint
}

func childEnvironment(inv Invocation, workDir, outputDir string) []string {
	return []string{
		EnvProject + "=" + inv.Group.Project,
		EnvRunGroup + "=" + inv.Group.Group,
		EnvJobType + "=" + string(inv.Step),
		EnvOutputDir + "=" + outputDir,
		EnvWorkDir + "=" + workDir,
	}
}

func manifestEnv(m *Manifest) []string {
	keys := make([]string, 0, len(m.Env))
	for k := range m.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+m.Env[k])
	}
	return env
}

func trackedConfig(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if ref, ok := v.(domain.ArtifactRef); ok {
			out[k] = ref.String()
			continue
		}
		out[k] = v
	}
	return out
}

func stageFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	//nolint:gosec // Resolved artifact or configuration paths
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
