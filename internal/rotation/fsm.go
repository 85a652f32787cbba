// Package rotation implements the per-placement display state machine: when
// to show an advertisement, when to close or rotate it, and when a
// placement has run out of fresh candidates.
//
// Transition is pure. It takes the current State and one Input and returns
// the next State plus the Effects a runtime must carry out. Placement is
// that runtime.
package rotation

import (
	"time"

	"github.com/patrickwarner/adrotator/internal/models"
)

// Phase names a state of the machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseArmed     Phase = "armed_pending_show"
	PhaseVisible   Phase = "visible"
	PhaseClosing   Phase = "closing"
	PhaseExhausted Phase = "exhausted"
)

// TimerKind identifies one of the placement's timers. At most one timer of
// each kind is pending at a time.
type TimerKind string

const (
	TimerShowDelay   TimerKind = "show_delay"
	TimerAutoClose   TimerKind = "auto_close"
	TimerAutoRotate  TimerKind = "auto_rotate"
	TimerRotationGap TimerKind = "rotation_gap"
	TimerCooldown    TimerKind = "cooldown"
)

var allTimers = []TimerKind{TimerShowDelay, TimerAutoClose, TimerAutoRotate, TimerRotationGap, TimerCooldown}

// Event is what happened to the placement.
type Event string

const (
	EventCandidate      Event = "candidate"
	EventTimer          Event = "timer"
	EventClose          Event = "close"
	EventClick          Event = "click"
	EventReset          Event = "reset"
	EventUnmount        Event = "unmount"
	EventPlay           Event = "play"
	EventPause          Event = "pause"
	EventMute           Event = "mute"
	EventUnmute         Event = "unmute"
	EventPlaybackFailed Event = "playback_failed"
)

// Input is one event together with the catalog view needed to handle it.
type Input struct {
	Event Event
	// Timer is set for EventTimer.
	Timer TimerKind
	// Next is the position selector's current pick for the identity.
	Next *models.Advertisement
	// Pool is the position's full ordered candidate list. Nil means the
	// caller did not look it up; an empty slice means the position is empty.
	Pool []models.Advertisement
}

// State is the per-placement rotation state.
type State struct {
	Phase   Phase                 `json:"phase"`
	Current *models.Advertisement `json:"current,omitempty"`
	// Pending is the rotation target chosen while Current was visible. It is
	// armed once the rotation gap has elapsed.
	Pending           *models.Advertisement `json:"pending,omitempty"`
	Visible           bool                  `json:"visible"`
	SessionShownCount int                   `json:"session_shown_count"`
	ShownInSession    []string              `json:"shown_in_session"`
	Playing           bool                  `json:"playing"`
	Muted             bool                  `json:"muted"`
	Unmounted         bool                  `json:"unmounted"`
}

// InitialState is the state of a freshly mounted placement.
func InitialState() State {
	return State{Phase: PhaseIdle}
}

// Capped reports whether the placement reached its session cap.
func (s State) Capped(cfg Config) bool {
	return s.SessionShownCount >= cfg.MaxAdsPerSession
}

func (s State) shownInSession(id string) bool {
	for _, shown := range s.ShownInSession {
		if shown == id {
			return true
		}
	}
	return false
}

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	EffectStartTimer       EffectKind = "start_timer"
	EffectCancelTimer      EffectKind = "cancel_timer"
	EffectMarkShown        EffectKind = "mark_shown"
	EffectReportImpression EffectKind = "report_impression"
	EffectReportClick      EffectKind = "report_click"
	EffectReportClose      EffectKind = "report_close"
	EffectNotifyShow       EffectKind = "notify_show"
	EffectNotifyClick      EffectKind = "notify_click"
	EffectOpenTarget       EffectKind = "open_target"
	EffectPlay             EffectKind = "play"
	EffectPause            EffectKind = "pause"
	EffectSetMuted         EffectKind = "set_muted"
)

// Effect is one side effect. Effects must be executed in order.
type Effect struct {
	Kind  EffectKind
	Timer TimerKind
	Delay time.Duration
	AdID  string
	URL   string
	Muted bool
}

// Config holds the timing and cap settings of one placement.
type Config struct {
	DisplayDuration    time.Duration
	AutoRotateInterval time.Duration
	MaxAdsPerSession   int
	ShowDelay          time.Duration
	RotationGap        time.Duration
	ExhaustionCooldown time.Duration
}

// DefaultConfig returns the standard placement settings.
func DefaultConfig() Config {
	return Config{
		DisplayDuration:    30 * time.Second,
		AutoRotateInterval: 3 * time.Minute,
		MaxAdsPerSession:   5,
		ShowDelay:          time.Second,
		RotationGap:        time.Second,
		ExhaustionCooldown: 5 * time.Minute,
	}
}

// WithPlacement overlays the caller-supplied placement settings on cfg.
// Zero values keep the defaults.
func (cfg Config) WithPlacement(pc models.PlacementConfig) Config {
	if pc.DisplayDuration > 0 {
		cfg.DisplayDuration = time.Duration(pc.DisplayDuration) * time.Second
	}
	if pc.AutoRotateInterval > 0 {
		cfg.AutoRotateInterval = time.Duration(pc.AutoRotateInterval) * time.Minute
	}
	if pc.MaxAdsPerSession > 0 {
		cfg.MaxAdsPerSession = pc.MaxAdsPerSession
	}
	return cfg
}

// Transition applies in to s. Inputs that do not apply to the current phase
// leave the state unchanged and produce no effects.
func Transition(cfg Config, s State, in Input) (State, []Effect) {
	if s.Unmounted {
		return s, nil
	}

	switch in.Event {
	case EventUnmount:
		var fx []Effect
		s, fx = stopPlayback(s, fx)
		fx = append(fx, cancelTimers(allTimers...)...)
		s.Visible = false
		s.Unmounted = true
		return s, fx

	case EventReset:
		var fx []Effect
		s, fx = stopPlayback(s, fx)
		fx = append(fx, cancelTimers(allTimers...)...)
		return InitialState(), fx

	case EventCandidate:
		return offer(cfg, s, in.Next)

	case EventTimer:
		return onTimer(cfg, s, in)

	case EventClose:
		if s.Phase != PhaseVisible {
			return s, nil
		}
		return closeSequence(cfg, s, nil)

	case EventClick:
		if s.Phase != PhaseVisible || s.Current == nil {
			return s, nil
		}
		ad := s.Current
		fx := []Effect{
			{Kind: EffectReportClick, AdID: ad.ID},
			{Kind: EffectNotifyClick, AdID: ad.ID},
		}
		if ad.TargetURL != "" {
			fx = append(fx, Effect{Kind: EffectOpenTarget, AdID: ad.ID, URL: ad.TargetURL})
		}
		return closeSequence(cfg, s, fx)

	case EventPlay, EventPause, EventMute, EventUnmute, EventPlaybackFailed:
		return playback(s, in.Event)
	}
	return s, nil
}

// offer handles a new selector pick while idle.
func offer(cfg Config, s State, next *models.Advertisement) (State, []Effect) {
	if s.Phase != PhaseIdle || next == nil || s.Capped(cfg) {
		return s, nil
	}
	if s.Current != nil && s.Current.ID == next.ID {
		return s, nil
	}
	ad := *next
	s.Current = &ad
	if s.shownInSession(ad.ID) {
		return s, nil
	}
	return arm(cfg, s, &ad, nil)
}

func arm(cfg Config, s State, ad *models.Advertisement, fx []Effect) (State, []Effect) {
	s.Current = ad
	s.Pending = nil
	s.Visible = false
	s.Phase = PhaseArmed
	return s, append(fx, Effect{Kind: EffectStartTimer, Timer: TimerShowDelay, Delay: cfg.ShowDelay})
}

func onTimer(cfg Config, s State, in Input) (State, []Effect) {
	switch {
	case in.Timer == TimerShowDelay && s.Phase == PhaseArmed:
		return show(cfg, s, in)
	case in.Timer == TimerAutoClose && s.Phase == PhaseVisible:
		return closeSequence(cfg, s, nil)
	case in.Timer == TimerAutoRotate && s.Phase == PhaseVisible:
		return rotate(cfg, s, in.Pool)
	case in.Timer == TimerRotationGap && s.Phase == PhaseClosing:
		return rearm(cfg, s, in)
	case in.Timer == TimerCooldown && s.Phase == PhaseExhausted:
		return cooldownElapsed(cfg, s, in.Pool)
	}
	return s, nil
}

// show enters Visible. Effect order: mark shown, playback, impression,
// caller callback, then the two racing display timers. An armed ad that left
// the catalog during the show delay is dropped and the selector's pick is
// offered instead.
func show(cfg Config, s State, in Input) (State, []Effect) {
	if s.Current == nil {
		s.Phase = PhaseIdle
		return s, nil
	}
	if in.Pool != nil && findByID(in.Pool, s.Current.ID) == nil {
		s.Phase = PhaseIdle
		s.Current = nil
		return offer(cfg, s, in.Next)
	}
	ad := s.Current
	s.Phase = PhaseVisible
	s.Visible = true
	s.ShownInSession = append(append([]string(nil), s.ShownInSession...), ad.ID)
	s.SessionShownCount++

	fx := []Effect{{Kind: EffectMarkShown, AdID: ad.ID}}
	if ad.IsVideo() {
		s.Playing = true
		s.Muted = true
		fx = append(fx, Effect{Kind: EffectPlay, AdID: ad.ID, Muted: true})
	}
	fx = append(fx,
		Effect{Kind: EffectReportImpression, AdID: ad.ID},
		Effect{Kind: EffectNotifyShow, AdID: ad.ID},
	)
	if cfg.DisplayDuration > 0 {
		fx = append(fx, Effect{Kind: EffectStartTimer, Timer: TimerAutoClose, Delay: cfg.DisplayDuration})
	}
	if cfg.AutoRotateInterval > 0 {
		fx = append(fx, Effect{Kind: EffectStartTimer, Timer: TimerAutoRotate, Delay: cfg.AutoRotateInterval})
	}
	return s, fx
}

// closeSequence leaves Visible. Whatever raced with the trigger is cancelled.
func closeSequence(cfg Config, s State, fx []Effect) (State, []Effect) {
	s, fx = stopPlayback(s, fx)
	s.Visible = false
	if s.Current != nil {
		fx = append(fx, Effect{Kind: EffectReportClose, AdID: s.Current.ID})
	}
	fx = append(fx, cancelTimers(TimerAutoClose, TimerAutoRotate)...)
	s.Phase = PhaseClosing
	fx = append(fx, Effect{Kind: EffectStartTimer, Timer: TimerRotationGap, Delay: cfg.RotationGap})
	return s, fx
}

// rotate handles the auto-rotate timer while visible.
func rotate(cfg Config, s State, pool []models.Advertisement) (State, []Effect) {
	if s.Capped(cfg) {
		return closeSequence(cfg, s, nil)
	}
	next := firstUnseen(s, pool)
	if next == nil {
		return exhaust(cfg, s)
	}
	s, fx := closeSequence(cfg, s, nil)
	s.Pending = next
	return s, fx
}

// rearm runs after the rotation gap.
func rearm(cfg Config, s State, in Input) (State, []Effect) {
	if s.Capped(cfg) {
		s.Phase = PhaseIdle
		s.Current = nil
		s.Pending = nil
		return s, nil
	}

	var pick *models.Advertisement
	if s.Pending != nil && !s.shownInSession(s.Pending.ID) {
		pick = findByID(in.Pool, s.Pending.ID)
	}
	if pick == nil && in.Next != nil && !s.shownInSession(in.Next.ID) {
		ad := *in.Next
		pick = &ad
	}
	if pick == nil {
		pick = firstUnseen(s, in.Pool)
	}
	if pick == nil {
		return exhaust(cfg, s)
	}
	return arm(cfg, s, pick, nil)
}

// exhaust enters Exhausted and starts the cooldown.
func exhaust(cfg Config, s State) (State, []Effect) {
	var fx []Effect
	s, fx = stopPlayback(s, fx)
	fx = append(fx, cancelTimers(TimerShowDelay, TimerAutoClose, TimerAutoRotate, TimerRotationGap)...)
	s.Visible = false
	s.Current = nil
	s.Pending = nil
	s.Phase = PhaseExhausted
	fx = append(fx, Effect{Kind: EffectStartTimer, Timer: TimerCooldown, Delay: cfg.ExhaustionCooldown})
	return s, fx
}

// cooldownElapsed clears the placement's session and arms the first
// candidate of the position directly, without consulting the selector.
func cooldownElapsed(cfg Config, s State, pool []models.Advertisement) (State, []Effect) {
	s.ShownInSession = nil
	s.SessionShownCount = 0
	if len(pool) == 0 {
		s.Phase = PhaseIdle
		s.Current = nil
		return s, nil
	}
	ad := pool[0]
	return arm(cfg, s, &ad, nil)
}

func playback(s State, ev Event) (State, []Effect) {
	if s.Phase != PhaseVisible || s.Current == nil || !s.Current.IsVideo() {
		return s, nil
	}
	id := s.Current.ID
	switch ev {
	case EventPlay:
		if s.Playing {
			return s, nil
		}
		s.Playing = true
		return s, []Effect{{Kind: EffectPlay, AdID: id, Muted: s.Muted}}
	case EventPause:
		if !s.Playing {
			return s, nil
		}
		s.Playing = false
		return s, []Effect{{Kind: EffectPause, AdID: id}}
	case EventMute, EventUnmute:
		muted := ev == EventMute
		if s.Muted == muted {
			return s, nil
		}
		s.Muted = muted
		return s, []Effect{{Kind: EffectSetMuted, AdID: id, Muted: muted}}
	case EventPlaybackFailed:
		s.Playing = false
		return s, nil
	}
	return s, nil
}

func stopPlayback(s State, fx []Effect) (State, []Effect) {
	if s.Playing && s.Current != nil {
		fx = append(fx, Effect{Kind: EffectPause, AdID: s.Current.ID})
	}
	s.Playing = false
	return s, fx
}

func cancelTimers(kinds ...TimerKind) []Effect {
	fx := make([]Effect, 0, len(kinds))
	for _, k := range kinds {
		fx = append(fx, Effect{Kind: EffectCancelTimer, Timer: k})
	}
	return fx
}

func firstUnseen(s State, pool []models.Advertisement) *models.Advertisement {
	for _, ad := range pool {
		if s.shownInSession(ad.ID) {
			continue
		}
		if s.Current != nil && s.Current.ID == ad.ID {
			continue
		}
		pick := ad
		return &pick
	}
	return nil
}

func findByID(pool []models.Advertisement, id string) *models.Advertisement {
	for _, ad := range pool {
		if ad.ID == id {
			pick := ad
			return &pick
		}
	}
	return nil
}
