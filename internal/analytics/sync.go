package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matthewbaird/formsync/internal/live"
)

// DefaultInterval is the poll period used when Options.Interval is zero.
const DefaultInterval = 20 * time.Second

var errNoAnalytics = errors.New("analytics: empty response")

// Fetcher loads the current aggregate for a form.
type Fetcher interface {
	GetAnalytics(ctx context.Context, formID string) (*Analytics, error)
}

// Subscriber delivers live messages. *live.Channel satisfies it.
type Subscriber interface {
	Subscribe(fn func(live.Message)) (unsubscribe func())
}

// Options configures a Sync.
type Options struct {
	Interval time.Duration

	// Group coalesces fetches across every Sync that shares it, keyed by
	// form id. Nil gives the Sync a private group.
	Group *singleflight.Group

	Logger *zap.Logger

	// OnUpdate runs on the refresh goroutine after every refresh.
	OnUpdate func(Snapshot)
}

// Snapshot is the last known aggregate and the error of the latest
// refresh. A failed refresh keeps the previous Analytics.
type Snapshot struct {
	Analytics *Analytics
	Err       error
}

// Sync refreshes the analytics of one form. Refreshes run one at a time on
// the Run goroutine; triggers that arrive while one is in flight collapse
// into a single follow-up.
type Sync struct {
	formID  string
	fetcher Fetcher
	opts    Options
	log     *zap.Logger
	group   *singleflight.Group
	kick    chan struct{}

	mu      sync.RWMutex
	current *Analytics
	err     error
}

// New creates a Sync for formID. Nothing is fetched until Run or Refresh.
func New(formID string, fetcher Fetcher, opts Options) *Sync {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	group := opts.Group
	if group == nil {
		group = &singleflight.Group{}
	}
	return &Sync{
		formID:  formID,
		fetcher: fetcher,
		opts:    opts,
		log:     opts.Logger.With(zap.String("form_id", formID)),
		group:   group,
		kick:    make(chan struct{}, 1),
	}
}

// FormID returns the tracked form.
func (s *Sync) FormID() string { return s.formID }

// Trigger requests a refresh from the Run loop. It never blocks.
func (s *Sync) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// HandleMessage triggers a refresh when msg announces a new response to
// the tracked form, and reports whether it did.
func (s *Sync) HandleMessage(msg live.Message) bool {
	if !msg.NewResponseFor(s.formID) {
		return false
	}
	s.log.Debug("analytics: new response")
	s.Trigger()
	return true
}

// Attach routes sub's messages into HandleMessage until the returned func
// is called.
func (s *Sync) Attach(sub Subscriber) (detach func()) {
	return sub.Subscribe(func(msg live.Message) { s.HandleMessage(msg) })
}

// Run loads the snapshot once, then refreshes on every poll tick and
// trigger until ctx is done. Ticks and triggers that arrive during a
// refresh produce one follow-up between them, and the poll interval
// restarts after every refresh.
func (s *Sync) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.refreshAndRearm(ctx, ticker)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// The refresh about to run serves a trigger queued alongside.
			select {
			case <-s.kick:
			default:
			}
		case <-s.kick:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.refreshAndRearm(ctx, ticker)
	}
}

// refreshAndRearm refreshes, folds a tick that fired meanwhile into the
// pending trigger and restarts the ticker.
func (s *Sync) refreshAndRearm(ctx context.Context, ticker *time.Ticker) {
	s.Refresh(ctx)
	select {
	case <-ticker.C:
		s.Trigger()
	default:
	}
	ticker.Reset(s.opts.Interval)
}

// Refresh fetches synchronously and returns the resulting snapshot.
func (s *Sync) Refresh(ctx context.Context) Snapshot {
	v, err, shared := s.group.Do(s.formID, func() (any, error) {
		return s.fetcher.GetAnalytics(ctx, s.formID)
	})

	if err == nil && v.(*Analytics) == nil {
		err = errNoAnalytics
	}

	s.mu.Lock()
	if err != nil {
		s.err = err
	} else {
		s.current = v.(*Analytics)
		s.err = nil
	}
	snap := Snapshot{Analytics: s.current, Err: s.err}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("analytics: refresh failed", zap.Error(err))
	} else {
		s.log.Debug("analytics: refreshed",
			zap.Int("total_responses", snap.Analytics.TotalResponses),
			zap.Bool("shared", shared),
		)
	}
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(snap)
	}
	return snap
}

// Snapshot returns the current state without fetching.
func (s *Sync) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Analytics: s.current, Err: s.err}
}
