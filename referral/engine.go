package referral

import (
	"crypto/rand"
	"io"
	"time"

	"go.uber.org/zap"
)

// Observer receives referral events. The metrics package provides the
// Prometheus implementation.
type Observer interface {
	CodeGenerated(attempts int, fallback bool)
	CodeValidated(code ErrorCode)
	ReferralCreated(programType ProgramType)
	ReferralQualified(programType ProgramType)
	RewardCredited(side string, cents int64)
	CreditsSpent(cents int64)
}

type nopObserver struct{}

func (nopObserver) CodeGenerated(int, bool) {}
func (nopObserver) CodeValidated(ErrorCode) {}
func (nopObserver) ReferralCreated(ProgramType) {}
func (nopObserver) ReferralQualified(ProgramType) {}
func (nopObserver) RewardCredited(string, int64) {}
func (nopObserver) CreditsSpent(int64) {}

// Engine is the referral program engine. It holds no referral state of its
// own; every call reads and writes through Store.
type Engine struct {
	Store    TxStore
	Logger   *zap.Logger
	Observer Observer

	// Now returns the current time. Tests pin it to a fixed instant.
	Now func() time.Time

	// Random is the entropy source for code suffixes.
	Random io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger the engine writes lifecycle events to.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.Logger = l } }

// WithObserver sets the receiver of engine metrics events.
func WithObserver(o Observer) Option { return func(e *Engine) { e.Observer = o } }

// WithClock replaces time.Now for timestamps and monthly limit windows.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.Now = now } }

// WithRandom sets the entropy source for referral code suffixes.
func WithRandom(r io.Reader) Option { return func(e *Engine) { e.Random = r } }

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		Store:    store,
		Logger:   zap.NewNop(),
		Observer: nopObserver{},
		Now:      func() time.Time { return time.Now().UTC() },
		Random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// monthStart returns the first instant of t's calendar month.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
