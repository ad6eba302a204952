// Package core implements the acquisition state machine: clear the account,
// submit a magnet, poll until the job materializes as a folder, find a
// playable file inside it and resolve its stream URL.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/clock"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/metrics"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"golang.org/x/sync/errgroup"
)

// RootFolderID is the account root
const RootFolderID = "0"

// Account is the part of the account client the orchestrator drives
type Account interface {
	ListFolder(ctx context.Context, folderID string) (*seedr.Listing, error)
	SubmitJob(ctx context.Context, magnet string) (*seedr.SubmitResult, error)
	DeleteItem(ctx context.Context, id string, kind seedr.ItemKind) error
	ResolveStreamURL(ctx context.Context, fileID string) (*seedr.StreamURL, error)
}

// Options tune one run
type Options struct {
	PollInterval      time.Duration
	MaxAttempts       int
	PollTimeout       time.Duration // 0 disables the wall-clock budget
	DeleteConcurrency int
	WalkConcurrency   int
	MaxWalkDepth      int
	Trackers          []string
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Acquisition)
}

// OptionsFromConfig converts the acquisition config section
func OptionsFromConfig(cfg config.AcquisitionConfig) Options {
	trackers := cfg.Trackers
	if len(trackers) == 0 {
		trackers = config.DefaultTrackers
	}
	return Options{
		PollInterval:      cfg.PollInterval,
		MaxAttempts:       cfg.MaxAttempts,
		PollTimeout:       cfg.PollTimeout,
		DeleteConcurrency: cfg.DeleteConcurrency,
		WalkConcurrency:   cfg.WalkConcurrency,
		MaxWalkDepth:      cfg.MaxWalkDepth,
		Trackers:          trackers,
	}
}

// Orchestrator runs acquisitions against one account
type Orchestrator struct {
	account Account
	store   seedr.SessionStore
	opts    Options
	clock   clock.Clock
	logger  hclog.Logger
	observe Observer
}

// NewOrchestrator creates an orchestrator. store may be nil; when set, its
// invalidation cancels any run in progress with a session-expired failure.
func NewOrchestrator(account Account, store seedr.SessionStore, opts Options, clk clock.Clock, logger hclog.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.DeleteConcurrency <= 0 {
		opts.DeleteConcurrency = 1
	}
	return &Orchestrator{account: account, store: store, opts: opts, clock: clk, logger: logger}
}

// WithObserver returns a copy that reports every update to fn
func (o *Orchestrator) WithObserver(fn Observer) *Orchestrator {
	cp := *o
	cp.observe = fn
	return &cp
}

// AcquireAndResolve turns a hash or magnet URI into a stream resolution.
// Every error is an *errors.AcquisitionError.
func (o *Orchestrator) AcquireAndResolve(ctx context.Context, source, title string) (*StreamResolution, error) {
	return o.Run(ctx, Submission{Source: source, Title: title})
}

// Run executes one submission to completion
func (o *Orchestrator) Run(ctx context.Context, sub Submission) (*StreamResolution, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		Orchestrator: o,
		ctx:          ctx,
		sub:          sub,
		logger:       o.logger.With("title", sub.Title),
	}

	res, err := r.execute(cancel)
	outcome := string(StateResolved)
	if err != nil {
		ae := r.classify("run", err)
		outcome = string(ae.Kind)
		state := StateFailed
		if ae.Kind == acqerrors.KindCancelled {
			state = StateCancelled
		}
		r.logger.Warn("acquisition ended", "state", state, "kind", ae.Kind, "error", ae.Err, "attempts", r.attempts)
		r.emit(Update{State: state, Attempt: r.attempts, Progress: r.progress, Message: ae.Reason(), Err: ae})
		err = ae
	}

	metrics.Acquisitions.WithLabelValues(outcome).Inc()
	if r.attempts > 0 {
		metrics.PollAttempts.Observe(float64(r.attempts))
	}
	return res, err
}

// run holds the mutable state of one execution
type run struct {
	*Orchestrator
	ctx      context.Context
	sub      Submission
	logger   hclog.Logger
	magnet   string
	hash     string
	attempts int
	progress float64
}

func (r *run) execute(cancel context.CancelCauseFunc) (*StreamResolution, error) {
	if strings.TrimSpace(r.sub.Title) == "" {
		return nil, acqerrors.InvalidInput("validate", errors.New("title is required"))
	}
	magnet, hash, err := BuildMagnet(r.sub.Source, r.sub.Title, r.opts.Trackers)
	if err != nil {
		return nil, err
	}
	r.magnet, r.hash = magnet, hash

	if r.store != nil {
		if _, ok := r.store.Credential(); !ok {
			return nil, acqerrors.SessionExpired("validate", nil)
		}
		unsubscribe := r.store.Subscribe(func(cause error) {
			cancel(acqerrors.SessionExpired("session", cause))
		})
		defer unsubscribe()
	}

	if err := r.evict(); err != nil {
		return nil, err
	}
	if err := r.submit(); err != nil {
		return nil, err
	}
	folder, err := r.poll()
	if err != nil {
		return nil, err
	}
	file, err := r.locate(folder)
	if err != nil {
		return nil, err
	}
	return r.resolve(file)
}

func (r *run) evict() error {
	r.transition(StateEvicting, "clearing account")

	listing, err := r.account.ListFolder(r.ctx, RootFolderID)
	if err := r.checkCtx("evicting"); err != nil {
		return err
	}
	if err != nil {
		ae := r.classify("evicting", err)
		if ae.Kind == acqerrors.KindSessionExpired {
			return ae
		}
		r.logger.Warn("eviction skipped, root listing failed", "error", err)
		return nil
	}

	items := make([]seedr.Item, 0, len(listing.Folders)+len(listing.Files)+len(listing.Transfers))
	items = append(items, listing.Folders...)
	items = append(items, listing.Files...)
	items = append(items, listing.Transfers...)

	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.opts.DeleteConcurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			err := r.account.DeleteItem(gctx, item.ID, item.Kind)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, seedr.ErrSessionExpired):
				return err
			case gctx.Err() != nil:
				return gctx.Err()
			}
			r.logger.Warn("delete failed, skipping", "id", item.ID, "kind", item.Kind, "error", err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r.classify("evicting", err)
	}
	r.logger.Debug("account cleared", "items", len(items))
	if err := r.checkCtx("evicting"); err != nil {
		return err
	}
	return nil
}

func (r *run) submit() error {
	r.transition(StateSubmitting, "submitting job")

	res, err := r.account.SubmitJob(r.ctx, r.magnet)
	if err := r.checkCtx("submitting"); err != nil {
		return err
	}
	if err != nil {
		return r.classify("submitting", err)
	}
	if !res.Accepted {
		return acqerrors.SubmissionRejected("submitting", res.Reason)
	}
	if r.hash == "" {
		r.hash = strings.ToLower(res.Hash)
	}
	r.logger.Info("job submitted", "transfer_id", res.TransferID, "backend_title", res.Title)
	return nil
}

func (r *run) poll() (seedr.Item, error) {
	r.transition(StatePolling, "waiting for download")

	var deadline time.Time
	if r.opts.PollTimeout > 0 {
		deadline = r.clock.Now().Add(r.opts.PollTimeout)
	}

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := r.wait(r.opts.PollInterval); err != nil {
			return seedr.Item{}, err
		}
		if !deadline.IsZero() && !r.clock.Now().Before(deadline) {
			break
		}

		listing, err := r.account.ListFolder(r.ctx, RootFolderID)
		r.attempts = attempt
		if err := r.checkCtx("polling"); err != nil {
			return seedr.Item{}, err
		}
		if err != nil {
			ae := r.classify("polling", err)
			if ae.Kind == acqerrors.KindSessionExpired {
				return seedr.Item{}, ae
			}
			r.logger.Warn("poll attempt failed", "attempt", attempt, "error", err)
			r.emit(Update{State: StatePolling, Attempt: attempt, Progress: r.progress, Message: "poll failed, retrying"})
			continue
		}

		if t, ok := FindTransfer(listing.Transfers, r.hash, r.sub.Title); ok {
			if t.Progress > r.progress {
				r.progress = t.Progress
			}
			r.emit(Update{State: StatePolling, Attempt: attempt, Progress: t.Progress, Message: "downloading"})
			if t.Progress < 100 {
				continue
			}
		}

		if folder, ok := FindFolder(listing.Folders, r.sub.Title); ok {
			r.progress = 100
			r.logger.Info("folder matched", "folder", folder.Name, "id", folder.ID, "attempt", attempt)
			return folder, nil
		}
		r.emit(Update{State: StatePolling, Attempt: attempt, Progress: r.progress, Message: "waiting for folder"})
	}

	return seedr.Item{}, acqerrors.PollTimeout("polling", r.attempts)
}

func (r *run) locate(folder seedr.Item) (seedr.Item, error) {
	r.transition(StateLocating, fmt.Sprintf("searching %q", folder.Name))

	tree, err := fetchTree(r.ctx, r.account, folder, r.opts.WalkConcurrency, r.opts.MaxWalkDepth)
	if err := r.checkCtx("locating"); err != nil {
		return seedr.Item{}, err
	}
	if err != nil {
		return seedr.Item{}, r.classify("locating", err)
	}

	file, ok := findPlayable(tree)
	if !ok {
		return seedr.Item{}, acqerrors.NoPlayableFile("locating", folder.Name)
	}
	r.logger.Info("playable file located", "file", file.Name, "id", file.ID)
	return file, nil
}

func (r *run) resolve(file seedr.Item) (*StreamResolution, error) {
	r.transition(StateResolving, file.Name)

	stream, err := r.account.ResolveStreamURL(r.ctx, file.ID)
	if err := r.checkCtx("resolving"); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, r.classify("resolving", err)
	}
	if stream == nil || stream.URL == "" {
		return nil, acqerrors.NoStreamURL("resolving", file.ID)
	}

	res := &StreamResolution{
		URL:       stream.URL,
		MediaType: mediaTypeOf(stream.URL),
		Container: containerOf(file.Name),
		FileID:    file.ID,
		FileName:  file.Name,
	}
	r.emit(Update{State: StateResolved, Attempt: r.attempts, Progress: 100, Message: file.Name, Result: res})
	return res, nil
}

// wait blocks for d on the clock unless the run is cancelled first
func (r *run) wait(d time.Duration) error {
	select {
	case <-r.clock.After(d):
	case <-r.ctx.Done():
	}
	if err := r.checkCtx("polling"); err != nil {
		return err
	}
	return nil
}

// checkCtx converts a cancelled run context into its failure
func (r *run) checkCtx(op string) *acqerrors.AcquisitionError {
	if r.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(r.ctx)
	var ae *acqerrors.AcquisitionError
	if errors.As(cause, &ae) {
		return ae
	}
	return acqerrors.Cancelled(op, cause)
}

// classify maps any error onto the failure taxonomy
func (r *run) classify(op string, err error) *acqerrors.AcquisitionError {
	var ae *acqerrors.AcquisitionError
	if errors.As(err, &ae) {
		return ae
	}
	if cerr := r.checkCtx(op); cerr != nil {
		return cerr
	}

	var se *seedr.StatusError
	switch {
	case errors.Is(err, seedr.ErrSessionExpired):
		return acqerrors.SessionExpired(op, err)
	case errors.Is(err, seedr.ErrTransport), errors.Is(err, seedr.ErrDecode), errors.As(err, &se):
		return acqerrors.Transport(op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return acqerrors.Cancelled(op, err)
	}
	return acqerrors.New(acqerrors.KindInternal, op, err)
}

func (r *run) transition(state State, message string) {
	r.logger.Debug("state change", "state", state)
	r.emit(Update{State: state, Attempt: r.attempts, Progress: r.progress, Message: message})
}

func (r *run) emit(u Update) {
	if r.observe == nil {
		return
	}
	u.At = r.clock.Now()
	r.observe(u)
}
