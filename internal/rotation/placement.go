package rotation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/logic/selectors"
	"github.com/patrickwarner/adrotator/internal/models"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	// ErrUnmounted is returned for actions on a placement that was unmounted.
	ErrUnmounted = errors.New("placement unmounted")
	// ErrNotVisible is returned for user actions while nothing is displayed.
	ErrNotVisible = errors.New("no advertisement visible")
)

// Reporter sends engagement notifications. Calls must not block.
type Reporter interface {
	ReportImpression(adID string)
	ReportClick(adID string)
	ReportClose(adID string)
}

// ShownTracker is the identity's shown-set.
type ShownTracker interface {
	selectors.ShownChecker
	MarkShown(ctx context.Context, id string)
}

// MediaPlayer drives video playback for the current advertisement.
type MediaPlayer interface {
	Play(adID string, muted bool) error
	Pause(adID string)
	SetMuted(adID string, muted bool)
}

// Hooks are the caller-supplied callbacks of a placement. Any may be nil.
type Hooks struct {
	OnAdShow   func(adID string)
	OnAdClick  func(adID string)
	OpenTarget func(adID, url string)
}

// Deps are the collaborators shared by the placements of one identity.
type Deps struct {
	Catalog   selectors.CandidateSource
	Selector  selectors.Selector
	Shown     ShownTracker
	Reporter  Reporter
	Player    MediaPlayer
	Scheduler Scheduler
	Logger    *zap.Logger
	Metrics   observability.MetricsRegistry
}

// Options describe one mounted placement.
type Options struct {
	ID               string
	Position         string
	Size             string
	ShowOnMobile     bool
	Config           Config
	Hooks            Hooks
	TransitionSample float64
}

// Update is pushed to subscribers after every state change.
type Update struct {
	Type      string `json:"type"`
	AdID      string `json:"ad_id,omitempty"`
	TargetURL string `json:"target_url,omitempty"`
	View      View   `json:"view"`
}

// Update types.
const (
	UpdateState = "state"
	UpdateShow  = "show"
	UpdateClick = "click"
	UpdateOpen  = "open"
)

type pendingTimer struct {
	gen   uint64
	timer Timer
}

// Placement runs the state machine for one mounted ad slot. Inputs are
// applied one at a time under mu; collaborator calls happen after mu is
// released so they can never re-enter a transition.
type Placement struct {
	opts Options
	deps Deps

	mu          sync.Mutex
	state       State
	timers      map[TimerKind]pendingTimer
	gen         uint64
	subscribers map[int]chan Update
	nextSub     int
}

// NewPlacement creates an idle placement. Call Mount to start it.
func NewPlacement(opts Options, deps Deps) *Placement {
	if deps.Scheduler == nil {
		deps.Scheduler = WallClock
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpRegistry()
	}
	if deps.Selector == nil && deps.Catalog != nil {
		deps.Selector = selectors.NewPositionSelector(deps.Catalog)
	}
	if opts.Size == "" {
		opts.Size = models.SizeMedium
	}
	return &Placement{
		opts:        opts,
		deps:        deps,
		state:       InitialState(),
		timers:      make(map[TimerKind]pendingTimer),
		subscribers: make(map[int]chan Update),
	}
}

// ID returns the placement id.
func (p *Placement) ID() string { return p.opts.ID }

// Position returns the position the placement draws from.
func (p *Placement) Position() string { return p.opts.Position }

// Mount offers the first candidate.
func (p *Placement) Mount() {
	p.deps.Metrics.AddActivePlacements(1)
	p.Offer()
}

// Offer hands the selector's current pick to the machine. It arms only when
// idle and the pick differs from the current ad.
func (p *Placement) Offer() {
	_ = p.run(func() (Input, error) {
		return Input{Event: EventCandidate, Next: p.next()}, nil
	})
}

// Close is the user's explicit close action.
func (p *Placement) Close() error {
	return p.run(func() (Input, error) {
		if p.state.Phase != PhaseVisible {
			return Input{}, ErrNotVisible
		}
		return Input{Event: EventClose}, nil
	})
}

// Click records a click on the visible ad and closes it. It returns the
// target URL to open, empty when the ad has none.
func (p *Placement) Click() (string, error) {
	var target string
	err := p.run(func() (Input, error) {
		if p.state.Phase != PhaseVisible || p.state.Current == nil {
			return Input{}, ErrNotVisible
		}
		target = p.state.Current.TargetURL
		return Input{Event: EventClick}, nil
	})
	return target, err
}

// Playback applies a playback command to the visible video.
func (p *Placement) Playback(ev Event) error {
	switch ev {
	case EventPlay, EventPause, EventMute, EventUnmute, EventPlaybackFailed:
	default:
		return errors.New("unknown playback action")
	}
	return p.run(func() (Input, error) {
		if p.state.Phase != PhaseVisible {
			return Input{}, ErrNotVisible
		}
		return Input{Event: ev}, nil
	})
}

// Reset cancels everything and returns the placement to a fresh session.
func (p *Placement) Reset() {
	_ = p.run(func() (Input, error) { return Input{Event: EventReset}, nil })
	p.Offer()
}

// Unmount cancels every pending timer. Further calls are no-ops.
func (p *Placement) Unmount() {
	var first bool
	_ = p.run(func() (Input, error) {
		first = !p.state.Unmounted
		return Input{Event: EventUnmount}, nil
	})
	if !first {
		return
	}
	p.deps.Metrics.AddActivePlacements(-1)

	p.mu.Lock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
	p.mu.Unlock()
}

// State returns a copy of the current state.
func (p *Placement) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyStateLocked()
}

// Subscribe returns a channel receiving updates and a cancel func. Slow
// subscribers miss updates rather than block transitions.
func (p *Placement) Subscribe(buffer int) (<-chan Update, func()) {
	ch := make(chan Update, buffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Unmounted {
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subscribers[id]; ok {
			close(c)
			delete(p.subscribers, id)
		}
	}
}

// Subscribed reports whether any subscriber is attached.
func (p *Placement) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers) > 0
}

func (p *Placement) next() *models.Advertisement {
	if p.deps.Selector == nil {
		return nil
	}
	return p.deps.Selector.NextFor(p.opts.Position, p.deps.Shown)
}

func (p *Placement) pool() []models.Advertisement {
	if p.deps.Catalog == nil {
		return nil
	}
	return p.deps.Catalog.GetForPosition(p.opts.Position)
}

func (p *Placement) onTimer(kind TimerKind, gen uint64) {
	_ = p.run(func() (Input, error) {
		pt, ok := p.timers[kind]
		if !ok || pt.gen != gen {
			return Input{}, errStale
		}
		delete(p.timers, kind)
		return Input{Event: EventTimer, Timer: kind, Next: p.next(), Pool: p.pool()}, nil
	})
}

var errStale = errors.New("stale timer")

// run builds an input under the lock, applies it, and executes the
// resulting collaborator calls once the lock is released.
func (p *Placement) run(build func() (Input, error)) error {
	p.mu.Lock()
	if p.state.Unmounted {
		p.mu.Unlock()
		return ErrUnmounted
	}
	in, err := build()
	if err != nil {
		p.mu.Unlock()
		if errors.Is(err, errStale) {
			return nil
		}
		return err
	}

	before := p.state.Phase
	next, fx := Transition(p.opts.Config, p.state, in)
	p.state = next

	var calls []func()
	var updates []Update
	for _, e := range fx {
		switch e.Kind {
		case EffectStartTimer:
			p.startTimerLocked(e.Timer, e.Delay)
		case EffectCancelTimer:
			p.cancelTimerLocked(e.Timer)
		default:
			call, upd := p.effectCall(e)
			if call != nil {
				calls = append(calls, call)
			}
			if upd != nil {
				updates = append(updates, *upd)
			}
		}
	}

	if next.Phase != before {
		p.deps.Metrics.IncrementPlacementTransitions(string(next.Phase))
		if observability.ShouldSample(p.opts.TransitionSample) {
			p.deps.Logger.Debug("placement transition",
				zap.String("placement_id", p.opts.ID),
				zap.String("position", p.opts.Position),
				zap.String("from", string(before)),
				zap.String("to", string(next.Phase)),
				zap.String("event", string(in.Event)),
				zap.String("timer", string(in.Timer)))
		}
	}

	view := p.viewLocked(false)
	for i := range updates {
		updates[i].View = view
	}
	updates = append(updates, Update{Type: UpdateState, View: view})
	p.publishLocked(updates)
	p.mu.Unlock()

	for _, call := range calls {
		call()
	}
	return nil
}

// effectCall maps a non-timer effect to the collaborator call executing it.
func (p *Placement) effectCall(e Effect) (func(), *Update) {
	d := p.deps
	hooks := p.opts.Hooks
	switch e.Kind {
	case EffectMarkShown:
		return func() {
			if d.Shown != nil {
				d.Shown.MarkShown(context.Background(), e.AdID)
			}
			d.Metrics.IncrementAdsShown(p.opts.Position)
		}, nil
	case EffectReportImpression:
		if d.Reporter == nil {
			return nil, nil
		}
		return func() { d.Reporter.ReportImpression(e.AdID) }, nil
	case EffectReportClick:
		if d.Reporter == nil {
			return nil, nil
		}
		return func() { d.Reporter.ReportClick(e.AdID) }, nil
	case EffectReportClose:
		if d.Reporter == nil {
			return nil, nil
		}
		return func() { d.Reporter.ReportClose(e.AdID) }, nil
	case EffectNotifyShow:
		upd := &Update{Type: UpdateShow, AdID: e.AdID}
		if hooks.OnAdShow == nil {
			return nil, upd
		}
		return func() { hooks.OnAdShow(e.AdID) }, upd
	case EffectNotifyClick:
		upd := &Update{Type: UpdateClick, AdID: e.AdID}
		if hooks.OnAdClick == nil {
			return nil, upd
		}
		return func() { hooks.OnAdClick(e.AdID) }, upd
	case EffectOpenTarget:
		upd := &Update{Type: UpdateOpen, AdID: e.AdID, TargetURL: e.URL}
		if hooks.OpenTarget == nil {
			return nil, upd
		}
		return func() { hooks.OpenTarget(e.AdID, e.URL) }, upd
	case EffectPlay:
		if d.Player == nil {
			return nil, nil
		}
		return func() {
			if err := d.Player.Play(e.AdID, e.Muted); err != nil {
				d.Logger.Debug("playback rejected", zap.String("ad_id", e.AdID), zap.Error(err))
				_ = p.Playback(EventPlaybackFailed)
			}
		}, nil
	case EffectPause:
		if d.Player == nil {
			return nil, nil
		}
		return func() { d.Player.Pause(e.AdID) }, nil
	case EffectSetMuted:
		if d.Player == nil {
			return nil, nil
		}
		return func() { d.Player.SetMuted(e.AdID, e.Muted) }, nil
	}
	return nil, nil
}

func (p *Placement) startTimerLocked(kind TimerKind, delay time.Duration) {
	p.cancelTimerLocked(kind)
	p.gen++
	gen := p.gen
	t := p.deps.Scheduler.AfterFunc(delay, func() { p.onTimer(kind, gen) })
	p.timers[kind] = pendingTimer{gen: gen, timer: t}
}

func (p *Placement) cancelTimerLocked(kind TimerKind) {
	if pt, ok := p.timers[kind]; ok {
		pt.timer.Stop()
		delete(p.timers, kind)
	}
}

// PendingTimers lists the timers currently scheduled.
func (p *Placement) PendingTimers() []TimerKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TimerKind, 0, len(p.timers))
	for _, k := range allTimers {
		if _, ok := p.timers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (p *Placement) publishLocked(updates []Update) {
	for _, ch := range p.subscribers {
		for _, u := range updates {
			select {
			case ch <- u:
			default:
			}
		}
	}
}

func (p *Placement) copyStateLocked() State {
	s := p.state
	s.ShownInSession = append([]string(nil), p.state.ShownInSession...)
	if p.state.Current != nil {
		cur := *p.state.Current
		s.Current = &cur
	}
	if p.state.Pending != nil {
		pend := *p.state.Pending
		s.Pending = &pend
	}
	return s
}
