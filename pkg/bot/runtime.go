// Package bot runs the persona: it answers chat as it arrives and fills
// silences with its own commentary.
package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"citrine/pkg/comlink"
	"citrine/pkg/completion"
	"citrine/pkg/memory"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Settings struct {
	Name   string
	Source string

	QuietPeriod    time.Duration
	IdlePoll       time.Duration
	FailureBackoff time.Duration

	SpeechTokensPerSecond float64
	HistoryLimit          int
	EventsLimit           int

	Temperature         float64
	IdleTemperature     float64
	MetadataTemperature float64
}

func DefaultSettings() Settings {
	return Settings{
		Name:                  "Citrine",
		Source:                "use_chat",
		QuietPeriod:           30 * time.Second,
		IdlePoll:              100 * time.Millisecond,
		FailureBackoff:        time.Second,
		SpeechTokensPerSecond: 3,
		HistoryLimit:          20,
		EventsLimit:           10,
		Temperature:           1,
		IdleTemperature:       1,
		MetadataTemperature:   0.3,
	}
}

// Deps are the runtime's collaborators. Files and Tasks are optional.
type Deps struct {
	Chat      ChatSource
	Store     memory.Store
	Completer Completer
	Publisher comlink.Publisher
	Files     Fetcher
	Tasks     TaskSource
	Logger    *zap.Logger
}

type Runtime struct {
	chat     ChatSource
	store    memory.Store
	llm      Completer
	pub      comlink.Publisher
	files    Fetcher
	tasks    TaskSource
	settings Settings
	log      *zap.Logger

	clock *Clock

	claimMu  sync.Mutex
	inflight map[string]bool

	// lastEpoch is only touched by the idle loop.
	lastEpoch int64

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	tokens func(text string) int
	pick   func(n int) int
}

func New(deps Deps, settings Settings) *Runtime {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		chat:     deps.Chat,
		store:    deps.Store,
		llm:      deps.Completer,
		pub:      deps.Publisher,
		files:    deps.Files,
		tasks:    deps.Tasks,
		settings: settings,
		log:      logger.Named("bot"),
		inflight: make(map[string]bool),
		now:      time.Now,
		sleep:    sleepCtx,
		tokens:   completion.CountTokens,
		pick:     rand.IntN,
	}
	if r.pub == nil {
		r.pub = comlink.Multi{}
	}
	r.clock = NewClock(r.now())
	return r
}

// Clock exposes the shared timing state.
func (r *Runtime) Clock() *Clock {
	return r.clock
}

// Run drives the inbound and idle loops until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("Persona runtime started",
		zap.String("name", r.settings.Name),
		zap.Duration("quiet_period", r.settings.QuietPeriod))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.RunInbound(ctx) })
	g.Go(func() error { return r.RunIdle(ctx) })
	err := g.Wait()

	r.log.Info("Persona runtime stopped")
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
