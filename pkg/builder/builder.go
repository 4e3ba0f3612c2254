package builder

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/appfoundry/publisher/pkg/github"
	"github.com/appfoundry/publisher/pkg/history"
	"github.com/appfoundry/publisher/pkg/results"
	"github.com/appfoundry/publisher/pkg/task"
)

const successMessage = "App built and deployed successfully"

var tracer = otel.Tracer("publisher/builder")

// Generator produces site content for a request inside a workspace directory.
type Generator interface {
	Generate(ctx context.Context, req task.Request, dir string) error
}

// Hosting is the publication collaborator: repository creation, fetch, and
// push against the hosting provider.
type Hosting interface {
	AuthenticatedUser(ctx context.Context) (string, error)
	CreateFromDir(ctx context.Context, dir, taskName string) (github.Publication, error)
	Clone(ctx context.Context, owner, name, dir string) error
	CommitAndPush(ctx context.Context, dir, message string) (string, error)
}

// BuildError wraps an unrecoverable build failure with the task it belongs to.
type BuildError struct {
	Task  string
	Round int
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build task %q round %d: %v", e.Task, e.Round, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Options tune orchestrator behavior.
type Options struct {
	// Owner overrides the repository owner; empty means the authenticated user.
	Owner string
	// Timeout bounds one whole build attempt. Zero disables the bound.
	Timeout time.Duration
	// Concurrency caps simultaneous builds. Zero or negative means unbounded,
	// matching the historical behavior.
	Concurrency int64
}

// Orchestrator runs one build attempt end to end: workspace, generation,
// publication, cache write. It never notifies the callback itself; whether
// and how to notify belongs to the caller, which knows if the request was
// synchronous.
type Orchestrator struct {
	generator Generator
	hosting   Hosting
	cache     *results.Cache
	history   *history.PostgresStore
	owner     string
	timeout   time.Duration
	sem       *semaphore.Weighted
}

func New(gen Generator, hosting Hosting, cache *results.Cache, hist *history.PostgresStore, opts Options) *Orchestrator {
	o := &Orchestrator{
		generator: gen,
		hosting:   hosting,
		cache:     cache,
		history:   hist,
		owner:     opts.Owner,
		timeout:   opts.Timeout,
	}
	if opts.Concurrency > 0 {
		o.sem = semaphore.NewWeighted(opts.Concurrency)
	}
	return o
}

// Build produces a publication for the request or fails with a BuildError.
// On success the evaluator payload is already cached under the request's
// composite key when Build returns.
func (o *Orchestrator) Build(ctx context.Context, req task.Request) (task.Record, task.Result, error) {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return task.Record{}, task.Result{}, &BuildError{Task: req.Task, Round: req.Round, Err: err}
		}
		defer o.sem.Release(1)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	attemptID := uuid.NewString()
	started := time.Now().UTC()

	ctx, span := tracer.Start(ctx, "build", trace.WithAttributes(
		attribute.String("build.task", req.Task),
		attribute.Int("build.round", req.Round),
		attribute.String("build.attempt_id", attemptID),
	))
	defer span.End()

	dir, err := os.MkdirTemp("", "publisher-build-*")
	if err != nil {
		span.RecordError(err)
		return task.Record{}, task.Result{}, &BuildError{Task: req.Task, Round: req.Round, Err: fmt.Errorf("create workspace: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("cleanup workspace %s: %v", dir, err)
		}
	}()

	pub, err := o.publish(ctx, req, dir)
	if err != nil {
		span.RecordError(err)
		o.recordAttempt(attemptID, req, github.Publication{}, started, err)
		return task.Record{}, task.Result{}, &BuildError{Task: req.Task, Round: req.Round, Err: err}
	}

	rec := task.Record{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   pub.RepoURL,
		CommitSHA: pub.CommitSHA,
		PagesURL:  pub.PagesURL,
	}
	res := task.Result{
		CommitSHA: pub.CommitSHA,
		Message:   successMessage,
		PagesURL:  pub.PagesURL,
		RepoURL:   pub.RepoURL,
		Round:     req.Round,
		Task:      req.Task,
	}

	o.cache.Put(ctx, rec, res)
	o.recordAttempt(attemptID, req, pub, started, nil)

	return rec, res, nil
}

// publish branches on round number. Round 1 always creates; later rounds try
// to update the existing repository and fall back to a fresh create when any
// step of the update sequence fails.
func (o *Orchestrator) publish(ctx context.Context, req task.Request, dir string) (github.Publication, error) {
	if req.Round == 1 {
		if err := o.generator.Generate(ctx, req, dir); err != nil {
			return github.Publication{}, fmt.Errorf("generate content: %w", err)
		}
		return o.hosting.CreateFromDir(ctx, dir, req.Task)
	}

	pub, err := o.updateExisting(ctx, req, dir)
	if err == nil {
		return pub, nil
	}
	log.Printf("round %d update for task %q failed, falling back to create: %v", req.Round, req.Task, err)

	// Fresh workspace for the fallback: the failed update may have left a
	// partial clone behind.
	if err := os.RemoveAll(dir); err != nil {
		return github.Publication{}, fmt.Errorf("reset workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return github.Publication{}, fmt.Errorf("reset workspace: %w", err)
	}
	if err := o.generator.Generate(ctx, req, dir); err != nil {
		return github.Publication{}, fmt.Errorf("generate content: %w", err)
	}
	return o.hosting.CreateFromDir(ctx, dir, req.Task)
}

func (o *Orchestrator) updateExisting(ctx context.Context, req task.Request, dir string) (github.Publication, error) {
	owner := o.owner
	if owner == "" {
		var err error
		owner, err = o.hosting.AuthenticatedUser(ctx)
		if err != nil {
			return github.Publication{}, fmt.Errorf("resolve repository owner: %w", err)
		}
	}

	name := github.RepoName(req.Task)
	if err := o.hosting.Clone(ctx, owner, name, dir); err != nil {
		return github.Publication{}, fmt.Errorf("clone existing repo: %w", err)
	}

	if err := o.generator.Generate(ctx, req, dir); err != nil {
		return github.Publication{}, fmt.Errorf("regenerate content: %w", err)
	}

	sha, err := o.hosting.CommitAndPush(ctx, dir, fmt.Sprintf("Round %d update", req.Round))
	if err != nil {
		return github.Publication{}, fmt.Errorf("push update: %w", err)
	}

	return github.Publication{
		RepoURL:   github.RepoURL(owner, name),
		CommitSHA: sha,
		PagesURL:  github.PagesURL(owner, name),
	}, nil
}

// recordAttempt writes a history row when a store is configured. History is
// best-effort and never fails a build.
func (o *Orchestrator) recordAttempt(id string, req task.Request, pub github.Publication, started time.Time, buildErr error) {
	if o.history == nil {
		return
	}

	a := history.Attempt{
		ID:         id,
		Email:      req.Email,
		Task:       req.Task,
		Round:      req.Round,
		Nonce:      req.Nonce,
		Status:     history.StatusSucceeded,
		RepoURL:    pub.RepoURL,
		CommitSHA:  pub.CommitSHA,
		PagesURL:   pub.PagesURL,
		CreatedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if buildErr != nil {
		a.Status = history.StatusFailed
		a.Error = buildErr.Error()
	}

	if err := o.history.Record(a); err != nil {
		log.Printf("record build attempt %s: %v", id, err)
	}
}
