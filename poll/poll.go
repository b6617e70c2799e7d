// Package poll checks sources for new posts and mirrors them.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"insta-mirror/pkg/mirror"
)

// DefaultLimit is how many recent posts are requested per source.
const DefaultLimit = 5

// ErrBusy is returned by TryRun while another run is in progress.
var ErrBusy = errors.New("run already in progress")

// Client looks up accounts and their recent posts.
type Client interface {
	ResolveAccount(ctx context.Context, name string) (string, error)
	RecentPosts(ctx context.Context, accountID string, limit int) ([]*mirror.Post, error)
}

// Dispatcher mirrors a single post.
type Dispatcher interface {
	Dispatch(ctx context.Context, source string, post *mirror.Post) ([]mirror.LocalMediaFile, error)
}

// Store interface for source list persistence.
type Store interface {
	Load(ctx context.Context) ([]mirror.Source, error)
	Save(ctx context.Context, sources []mirror.Source) error
}

// Poller checks one source at a time.
type Poller struct {
	client     Client
	dispatcher Dispatcher
	logger     *slog.Logger
	limit      int
}

// New creates a new poller. A limit of zero means DefaultLimit.
func New(client Client, dispatcher Dispatcher, limit int, logger *slog.Logger) *Poller {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Poller{
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
		limit:      limit,
	}
}

// Result is the outcome of polling one source.
type Result struct {
	Errors   []error
	Source   mirror.Source // Source with its marker advanced
	Detected int           // Posts newer than the stored marker
	Mirrored int           // Posts dispatched without error
}

// Poll fetches the recent posts of src and dispatches every post newer than its
// stored marker, in the order the client returned them.
//
// The marker advances to the newest taken_at among those posts whether or not
// their dispatch succeeded: a post that fails to publish is not retried. If the
// account cannot be resolved or listed, src is returned unchanged.
func (p *Poller) Poll(ctx context.Context, src mirror.Source) Result {
	res := Result{Source: src}
	p.logger.Info("Fetching new posts", "source", src.Name, "last_post", src.Marker())

	accountID, err := p.client.ResolveAccount(ctx, src.Name)
	if err != nil {
		if !mirror.IsKind(err, mirror.ResolutionError) {
			err = mirror.NewError(mirror.ResolutionError, src.Name, "resolve account", err)
		}
		p.logger.Warn("Account resolution failed, skipping source", "source", src.Name, "error", err)
		res.Errors = append(res.Errors, err)
		return res
	}

	posts, err := p.client.RecentPosts(ctx, accountID, p.limit)
	if err != nil {
		err = fmt.Errorf("list recent posts of %s: %w", src.Name, err)
		p.logger.Warn("Listing posts failed, skipping source", "source", src.Name, "account_id", accountID, "error", err)
		res.Errors = append(res.Errors, err)
		return res
	}

	p.logger.Debug("Posts fetched for comparison", "source", src.Name, "account_id", accountID, "count", len(posts))

	// Compare against the stored marker, not the advancing one, so every post
	// newer than the last run is mirrored regardless of the order returned.
	stored := src
	for _, post := range posts {
		if !stored.IsNewer(post.TakenAt) {
			continue
		}
		res.Detected++

		if _, err := p.dispatcher.Dispatch(ctx, src.Name, post); err != nil {
			p.logger.Warn("Post dispatch failed",
				"source", src.Name,
				"link", post.Permalink(),
				"taken_at", post.TakenAt.Unix(),
				"error", err)
			res.Errors = append(res.Errors, err)
		} else {
			res.Mirrored++
		}

		res.Source.Advance(post.TakenAt)
	}

	if res.Detected == 0 {
		p.logger.Info("No new posts", "source", src.Name)
	}
	return res
}

// Failure is an error recorded against a source during a run.
type Failure struct {
	Err    error
	Source string
}

// Report summarises one run.
type Report struct {
	Started  time.Time
	Failures []Failure
	Duration time.Duration
	Sources  int
	Detected int
	Mirrored int
	DryRun   bool
}

// Runner polls every source in the persisted list and saves the markers.
type Runner struct {
	store  Store
	poller *Poller
	logger *slog.Logger
	mu     sync.Mutex
	dry    bool
}

// NewRunner creates a runner. dry is only recorded in the report.
func NewRunner(store Store, poller *Poller, dry bool, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		poller: poller,
		logger: logger,
		dry:    dry,
	}
}

// Run loads the sources, polls each in list order and saves the full list once
// at the end. Only a load or save failure is returned as an error; per-source
// failures are collected in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx)
}

// TryRun is Run but returns ErrBusy instead of waiting for a run in progress.
func (r *Runner) TryRun(ctx context.Context) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()
	return r.run(ctx)
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	report := &Report{Started: time.Now(), DryRun: r.dry}

	sources, err := r.store.Load(ctx)
	if err != nil {
		return nil, asConfigError(err, "load sources")
	}
	report.Sources = len(sources)

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name
	}
	r.logger.Info("Checking sources", "count", len(sources), "sources", names, "dry_run", r.dry)

	for i := range sources {
		res := r.poller.Poll(ctx, sources[i])
		sources[i] = res.Source
		report.Detected += res.Detected
		report.Mirrored += res.Mirrored
		for _, e := range res.Errors {
			report.Failures = append(report.Failures, Failure{Source: res.Source.Name, Err: e})
		}
	}

	if err := r.store.Save(ctx, sources); err != nil {
		return report, asConfigError(err, "save sources")
	}

	report.Duration = time.Since(report.Started)
	r.logger.Info("Source check completed",
		"sources", report.Sources,
		"detected", report.Detected,
		"mirrored", report.Mirrored,
		"failures", len(report.Failures),
		"duration_ms", report.Duration.Milliseconds())

	return report, nil
}

func asConfigError(err error, op string) error {
	if mirror.IsKind(err, mirror.ConfigError) {
		return err
	}
	return mirror.NewError(mirror.ConfigError, "", op, err)
}
