package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mantonx/cinerelay/internal/clock"
	acqerrors "github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/errors"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

func testOptions() Options {
	return Options{
		PollInterval:      5 * time.Second,
		MaxAttempts:       10,
		DeleteConcurrency: 2,
		WalkConcurrency:   2,
		MaxWalkDepth:      4,
		Trackers:          []string{"udp://tracker.example:1337/announce"},
	}
}

func newTestOrchestrator(account *fakeAccount, store seedr.SessionStore, opts Options) (*Orchestrator, *clock.Fake, *[]Update) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	updates := &[]Update{}
	o := NewOrchestrator(account, store, opts, clk, nil).WithObserver(func(u Update) {
		*updates = append(*updates, u)
	})
	return o, clk, updates
}

func validStore() *seedr.MemoryStore {
	return seedr.NewMemoryStore(seedr.Credential{Token: "token"})
}

func TestOrchestrator_ResolvesAfterEvictionAndPolling(t *testing.T) {
	const title = "Test.Movie.2024.720p"
	account := newFakeAccount()
	account.roots = []rootReply{
		listing([]seedr.Item{transfer("Leftover", 40)}, folder("9", "Old.Show.S01")),
		listing([]seedr.Item{transfer(title, 10)}),
		listing([]seedr.Item{transfer(title, 55)}),
		listing([]seedr.Item{transfer(title, 100)}, folder("100", title)),
	}
	account.folders["100"] = &seedr.Listing{Files: []seedr.Item{
		file("201", "test.movie.sample.mkv"),
		file("202", "test.movie.mp4"),
	}}
	account.streams["202"] = "https://cdn.example/v/test.movie.mp4?token=x"

	o, _, updates := newTestOrchestrator(account, validStore(), testOptions())
	res, err := o.AcquireAndResolve(context.Background(), testHash, title)
	require.NoError(t, err)

	assert.Equal(t, &StreamResolution{
		URL:       "https://cdn.example/v/test.movie.mp4?token=x",
		MediaType: MediaTypeProgressive,
		Container: "mp4",
		FileID:    "202",
		FileName:  "test.movie.mp4",
	}, res)

	calls := account.callLog()
	submitAt := indexOf(calls, "submit")
	require.GreaterOrEqual(t, submitAt, 0)
	assert.Less(t, indexOf(calls, "delete:9"), submitAt, "eviction happens before submission")
	assert.Less(t, indexOf(calls, "delete:t-Leftover"), submitAt)
	assert.ElementsMatch(t, []string{"folder:9", "torrent:t-Leftover"}, account.deleted)
	assert.Equal(t, 4, account.count("list:0"))
	assert.Equal(t, 1, account.count("stream:202"))

	require.Len(t, account.magnets, 1)
	assert.Contains(t, account.magnets[0], "xt=urn:btih:"+testHash)

	var progress []float64
	for _, u := range *updates {
		if u.State == StatePolling && u.Attempt > 0 {
			progress = append(progress, u.Progress)
		}
	}
	assert.Equal(t, []float64{10, 55, 100}, progress)

	last := (*updates)[len(*updates)-1]
	assert.Equal(t, StateResolved, last.State)
	assert.Equal(t, res, last.Result)
	assert.Equal(t, []State{StateEvicting, StateSubmitting, StatePolling, StateLocating, StateResolving, StateResolved}, distinctStates(*updates))
}

func TestOrchestrator_MatchesFolderAcrossSeparators(t *testing.T) {
	account := newFakeAccount()
	account.roots = []rootReply{
		listing(nil),
		listing([]seedr.Item{transfer("Test.Movie.2024.720p", 10)}),
		listing([]seedr.Item{transfer("Test.Movie.2024.720p", 55)}),
		listing([]seedr.Item{transfer("Test.Movie.2024.720p", 100)}, folder("100", "Test.Movie.2024.720p")),
	}
	account.folders["100"] = &seedr.Listing{Files: []seedr.Item{
		file("201", "Test.Movie.sample.mkv"),
		file("202", "Test.Movie.2024.720p.mp4"),
	}}
	account.streams["202"] = "https://cdn.example/v/202.mp4"

	o, _, updates := newTestOrchestrator(account, validStore(), testOptions())
	res, err := o.AcquireAndResolve(context.Background(), testHash, "Test Movie")
	require.NoError(t, err)

	assert.Equal(t, "202", res.FileID)
	assert.Equal(t, "mp4", res.Container)
	assert.Equal(t, 1, account.countPrefix("stream:"))

	var progress []float64
	for _, u := range *updates {
		if u.State == StatePolling && u.Attempt > 0 {
			progress = append(progress, u.Progress)
		}
	}
	assert.Equal(t, []float64{10, 55, 100}, progress)
}

func TestOrchestrator_RejectedSubmissionNeverPolls(t *testing.T) {
	account := newFakeAccount()
	account.submit = &seedr.SubmitResult{Accepted: false, Reason: "not enough space"}

	o, clk, _ := newTestOrchestrator(account, validStore(), testOptions())
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Anything")

	require.Error(t, err)
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindSubmissionRejected))
	assert.Equal(t, 1, account.count("list:0"), "only the eviction listing")
	assert.Empty(t, clk.Waits())
}

func TestOrchestrator_SessionExpiryDuringPollHalts(t *testing.T) {
	store := validStore()
	account := newFakeAccount()
	account.roots = []rootReply{
		listing(nil),
		listing([]seedr.Item{transfer("Title", 20)}),
		{err: fmt.Errorf("list_folder: %w", seedr.ErrSessionExpired)},
	}

	o, _, updates := newTestOrchestrator(account, store, testOptions())
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	require.Error(t, err)
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindSessionExpired))
	assert.Equal(t, 3, account.count("list:0"))
	assert.Zero(t, account.countPrefix("stream:"))

	last := (*updates)[len(*updates)-1]
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, "session expired", last.Message)
}

func TestOrchestrator_StoreInvalidationCancelsRun(t *testing.T) {
	store := validStore()
	account := newFakeAccount()
	account.onSubmit = func(ctx context.Context) error {
		store.Invalidate(seedr.ErrSessionExpired)
		return nil
	}

	o, _, _ := newTestOrchestrator(account, store, testOptions())
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	require.Error(t, err)
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindSessionExpired))
	assert.Equal(t, 1, account.count("list:0"))
}

func TestOrchestrator_MissingCredentialFailsFast(t *testing.T) {
	account := newFakeAccount()
	o, _, _ := newTestOrchestrator(account, seedr.NewMemoryStore(seedr.Credential{}), testOptions())

	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindSessionExpired))
	assert.Empty(t, account.callLog())
}

func TestOrchestrator_AttemptBudget(t *testing.T) {
	opts := testOptions()
	opts.MaxAttempts = 5

	account := newFakeAccount()
	account.roots = []rootReply{listing([]seedr.Item{transfer("Title", 50)})}

	o, clk, _ := newTestOrchestrator(account, validStore(), opts)
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	require.Error(t, err)
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindPollTimeout))
	assert.Equal(t, 1+opts.MaxAttempts, account.count("list:0"))
	assert.Len(t, clk.Waits(), opts.MaxAttempts)

	var ae *acqerrors.AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 5, ae.Details["attempts"])
	assert.Equal(t, "timeout", ae.Reason())
}

func TestOrchestrator_WallClockBudget(t *testing.T) {
	opts := testOptions()
	opts.PollInterval = 10 * time.Second
	opts.PollTimeout = 35 * time.Second
	opts.MaxAttempts = 100

	account := newFakeAccount()
	o, _, _ := newTestOrchestrator(account, validStore(), opts)
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	assert.True(t, acqerrors.IsKind(err, acqerrors.KindPollTimeout))
	assert.Equal(t, 1+3, account.count("list:0"))
}

func TestOrchestrator_TransientPollErrorsAreTolerated(t *testing.T) {
	account := newFakeAccount()
	account.roots = []rootReply{
		listing(nil),
		{err: fmt.Errorf("list_folder: %w", seedr.ErrTransport)},
		{err: &seedr.StatusError{Op: "list_folder", StatusCode: 500}},
		listing(nil, folder("5", "Title.1080p")),
	}
	account.folders["5"] = &seedr.Listing{Files: []seedr.Item{file("6", "title.m4v"), file("7", "Title.MKV")}}
	account.streams["7"] = "https://cdn.example/hls/title/index.m3u8"

	o, _, _ := newTestOrchestrator(account, validStore(), testOptions())
	res, err := o.AcquireAndResolve(context.Background(), testHash, "title")

	require.NoError(t, err)
	assert.Equal(t, "7", res.FileID)
	assert.Equal(t, MediaTypeHLS, res.MediaType)
	assert.Equal(t, "mkv", res.Container)
}

func TestOrchestrator_NoPlayableFile(t *testing.T) {
	account := newFakeAccount()
	account.roots = []rootReply{listing(nil), listing(nil, folder("5", "Title"))}
	account.folders["5"] = &seedr.Listing{Files: []seedr.Item{file("6", "readme.txt")}}

	o, _, _ := newTestOrchestrator(account, validStore(), testOptions())
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	assert.True(t, acqerrors.IsKind(err, acqerrors.KindNoPlayableFile))
	assert.Zero(t, account.count("stream:6"))
}

func TestOrchestrator_NoStreamURL(t *testing.T) {
	account := newFakeAccount()
	account.roots = []rootReply{listing(nil), listing(nil, folder("5", "Title"))}
	account.folders["5"] = &seedr.Listing{Files: []seedr.Item{file("6", "title.mp4")}}

	o, _, updates := newTestOrchestrator(account, validStore(), testOptions())
	_, err := o.AcquireAndResolve(context.Background(), testHash, "Title")

	assert.True(t, acqerrors.IsKind(err, acqerrors.KindNoStreamURL))
	states := distinctStates(*updates)
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []State{StateResolving, StateFailed}, states[len(states)-2:])
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	account := newFakeAccount()
	account.onSubmit = func(context.Context) error {
		cancel()
		return nil
	}

	o, _, updates := newTestOrchestrator(account, validStore(), testOptions())
	_, err := o.AcquireAndResolve(ctx, testHash, "Title")

	assert.True(t, acqerrors.IsKind(err, acqerrors.KindCancelled))
	assert.Equal(t, 1, account.count("list:0"))
	assert.Equal(t, StateCancelled, (*updates)[len(*updates)-1].State)
}

func TestOrchestrator_InvalidInput(t *testing.T) {
	account := newFakeAccount()
	o, _, _ := newTestOrchestrator(account, validStore(), testOptions())

	_, err := o.AcquireAndResolve(context.Background(), "not-a-hash", "Title")
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindInvalidInput))

	_, err = o.AcquireAndResolve(context.Background(), testHash, "  ")
	assert.True(t, acqerrors.IsKind(err, acqerrors.KindInvalidInput))
	assert.Empty(t, account.callLog())
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func distinctStates(updates []Update) []State {
	var out []State
	for _, u := range updates {
		if len(out) == 0 || out[len(out)-1] != u.State {
			out = append(out, u.State)
		}
	}
	return out
}
