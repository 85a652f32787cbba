package rotation

import (
	"testing"
	"time"

	"github.com/patrickwarner/adrotator/internal/models"
)

func kinds(fx []Effect) []EffectKind {
	out := make([]EffectKind, len(fx))
	for i, e := range fx {
		out[i] = e.Kind
	}
	return out
}

func equalKinds(t *testing.T, got []Effect, want ...EffectKind) {
	t.Helper()
	g := kinds(got)
	if len(g) != len(want) {
		t.Fatalf("expected effects %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected effects %v, got %v", want, g)
		}
	}
}

func TestTransition_OfferArmsOnIDChange(t *testing.T) {
	cfg := DefaultConfig()
	a := &models.Advertisement{ID: "A"}

	s, fx := Transition(cfg, InitialState(), Input{Event: EventCandidate, Next: a})
	if s.Phase != PhaseArmed || s.Current.ID != "A" {
		t.Fatalf("expected armed with A, got %s %+v", s.Phase, s.Current)
	}
	if len(fx) != 1 || fx[0].Timer != TimerShowDelay || fx[0].Delay != time.Second {
		t.Fatalf("expected show delay timer, got %+v", fx)
	}

	// Same candidate again while armed is ignored.
	s2, fx := Transition(cfg, s, Input{Event: EventCandidate, Next: a})
	if len(fx) != 0 || s2.Phase != PhaseArmed {
		t.Fatalf("expected no-op, got %s %v", s2.Phase, kinds(fx))
	}
}

func TestTransition_OfferGuards(t *testing.T) {
	cfg := DefaultConfig()
	a := &models.Advertisement{ID: "A"}

	tests := []struct {
		name  string
		state State
		next  *models.Advertisement
	}{
		{"nil candidate", InitialState(), nil},
		{"capped", State{Phase: PhaseIdle, SessionShownCount: cfg.MaxAdsPerSession}, a},
		{"same id", State{Phase: PhaseIdle, Current: &models.Advertisement{ID: "A"}}, a},
		{"not idle", State{Phase: PhaseClosing}, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fx := Transition(cfg, tt.state, Input{Event: EventCandidate, Next: tt.next})
			if len(fx) != 0 {
				t.Errorf("expected no effects, got %v", kinds(fx))
			}
			if s.Phase != tt.state.Phase {
				t.Errorf("phase changed to %s", s.Phase)
			}
		})
	}
}

func TestTransition_OfferAlreadyShownInSessionDoesNotArm(t *testing.T) {
	s := State{Phase: PhaseIdle, ShownInSession: []string{"A"}}
	s, fx := Transition(DefaultConfig(), s, Input{Event: EventCandidate, Next: &models.Advertisement{ID: "A"}})

	if s.Phase != PhaseIdle || len(fx) != 0 {
		t.Fatalf("expected idle with no effects, got %s %v", s.Phase, kinds(fx))
	}
	if s.Current == nil || s.Current.ID != "A" {
		t.Fatal("expected current to track the candidate")
	}
}

func TestTransition_ShowEffectOrder(t *testing.T) {
	cfg := DefaultConfig()
	video := &models.Advertisement{ID: "V", MediaURL: "https://cdn.example.com/v.mp4"}
	s := State{Phase: PhaseArmed, Current: video}

	s, fx := Transition(cfg, s, Input{Event: EventTimer, Timer: TimerShowDelay})

	equalKinds(t, fx,
		EffectMarkShown, EffectPlay, EffectReportImpression, EffectNotifyShow,
		EffectStartTimer, EffectStartTimer)
	if !fx[1].Muted {
		t.Error("expected playback to start muted")
	}
	if fx[4].Timer != TimerAutoClose || fx[4].Delay != 30*time.Second {
		t.Errorf("unexpected auto close timer %+v", fx[4])
	}
	if fx[5].Timer != TimerAutoRotate || fx[5].Delay != 3*time.Minute {
		t.Errorf("unexpected auto rotate timer %+v", fx[5])
	}
	if !s.Visible || s.SessionShownCount != 1 || !s.Playing || !s.Muted {
		t.Errorf("unexpected state %+v", s)
	}
	if len(s.ShownInSession) != 1 || s.ShownInSession[0] != "V" {
		t.Errorf("expected V in session, got %v", s.ShownInSession)
	}
}

func TestTransition_ImageShowHasNoPlayback(t *testing.T) {
	s := State{Phase: PhaseArmed, Current: &models.Advertisement{ID: "I", MediaURL: "a.png"}}
	_, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerShowDelay})
	equalKinds(t, fx, EffectMarkShown, EffectReportImpression, EffectNotifyShow, EffectStartTimer, EffectStartTimer)
}

func TestTransition_ClickOrder(t *testing.T) {
	ad := &models.Advertisement{ID: "A", TargetURL: "https://example.com/a"}
	s := State{Phase: PhaseVisible, Visible: true, Current: ad, SessionShownCount: 1, ShownInSession: []string{"A"}}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventClick})

	equalKinds(t, fx,
		EffectReportClick, EffectNotifyClick, EffectOpenTarget, EffectReportClose,
		EffectCancelTimer, EffectCancelTimer, EffectStartTimer)
	if fx[2].URL != "https://example.com/a" {
		t.Errorf("unexpected target %s", fx[2].URL)
	}
	if fx[3].AdID != "A" {
		t.Errorf("expected close report for A, got %q", fx[3].AdID)
	}
	if fx[6].Timer != TimerRotationGap {
		t.Errorf("expected rotation gap, got %s", fx[6].Timer)
	}
	if s.Phase != PhaseClosing || s.Visible {
		t.Errorf("expected hidden closing state, got %+v", s)
	}
}

func TestTransition_ClickWithoutTargetSkipsOpen(t *testing.T) {
	s := State{Phase: PhaseVisible, Visible: true, Current: &models.Advertisement{ID: "A"}}
	_, fx := Transition(DefaultConfig(), s, Input{Event: EventClick})
	equalKinds(t, fx, EffectReportClick, EffectNotifyClick, EffectReportClose, EffectCancelTimer, EffectCancelTimer, EffectStartTimer)
}

func TestTransition_ClosePausesVideo(t *testing.T) {
	s := State{Phase: PhaseVisible, Visible: true, Playing: true, Current: &models.Advertisement{ID: "V", MediaURL: "v.webm"}}
	s, fx := Transition(DefaultConfig(), s, Input{Event: EventClose})

	equalKinds(t, fx, EffectPause, EffectReportClose, EffectCancelTimer, EffectCancelTimer, EffectStartTimer)
	if fx[1].AdID != "V" {
		t.Errorf("expected close report for V, got %q", fx[1].AdID)
	}
	if s.Playing {
		t.Error("expected playback stopped")
	}
}

func TestTransition_AutoCloseReportsClose(t *testing.T) {
	s := State{Phase: PhaseVisible, Visible: true, Current: &models.Advertisement{ID: "A"}}
	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerAutoClose})

	equalKinds(t, fx, EffectReportClose, EffectCancelTimer, EffectCancelTimer, EffectStartTimer)
	if s.Phase != PhaseClosing {
		t.Errorf("expected closing, got %s", s.Phase)
	}
}

func TestTransition_ShowSkipsWithdrawnAd(t *testing.T) {
	pool := []models.Advertisement{{ID: "B"}}
	s := State{Phase: PhaseArmed, Current: &models.Advertisement{ID: "A"}}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerShowDelay, Pool: pool, Next: &pool[0]})

	if s.Phase != PhaseArmed || s.Current.ID != "B" || s.Visible {
		t.Fatalf("expected B re-armed in place of withdrawn A, got %+v", s)
	}
	equalKinds(t, fx, EffectStartTimer)

	empty := State{Phase: PhaseArmed, Current: &models.Advertisement{ID: "A"}}
	empty, fx = Transition(DefaultConfig(), empty, Input{Event: EventTimer, Timer: TimerShowDelay, Pool: []models.Advertisement{}})
	if empty.Phase != PhaseIdle || empty.Current != nil || len(fx) != 0 {
		t.Fatalf("expected idle with nothing to show, got %+v %v", empty, kinds(fx))
	}
}

func TestTransition_StaleTimersIgnored(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		phase Phase
		timer TimerKind
	}{
		{PhaseClosing, TimerAutoClose},
		{PhaseClosing, TimerAutoRotate},
		{PhaseIdle, TimerShowDelay},
		{PhaseVisible, TimerRotationGap},
		{PhaseArmed, TimerCooldown},
	}
	for _, tt := range tests {
		s := State{Phase: tt.phase, Current: &models.Advertisement{ID: "A"}}
		got, fx := Transition(cfg, s, Input{Event: EventTimer, Timer: tt.timer})
		if len(fx) != 0 || got.Phase != tt.phase {
			t.Errorf("%s in %s: expected no-op, got %s %v", tt.timer, tt.phase, got.Phase, kinds(fx))
		}
	}
}

func TestTransition_RotatePicksFirstUnseen(t *testing.T) {
	pool := []models.Advertisement{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	s := State{Phase: PhaseVisible, Visible: true, Current: &pool[0], SessionShownCount: 1, ShownInSession: []string{"A"}}

	s, _ = Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerAutoRotate, Pool: pool})
	if s.Phase != PhaseClosing || s.Pending == nil || s.Pending.ID != "B" {
		t.Fatalf("expected closing with pending B, got %s %+v", s.Phase, s.Pending)
	}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerRotationGap, Pool: pool, Next: &pool[2]})
	if s.Phase != PhaseArmed || s.Current.ID != "B" {
		t.Fatalf("expected pending B to win over selector pick, got %s %+v", s.Phase, s.Current)
	}
	equalKinds(t, fx, EffectStartTimer)
}

func TestTransition_RotateWithoutCandidateExhausts(t *testing.T) {
	pool := []models.Advertisement{{ID: "A"}}
	s := State{Phase: PhaseVisible, Visible: true, Current: &pool[0], SessionShownCount: 1, ShownInSession: []string{"A"}}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerAutoRotate, Pool: pool})

	if s.Phase != PhaseExhausted || s.Current != nil || s.Visible {
		t.Fatalf("expected exhausted, got %+v", s)
	}
	last := fx[len(fx)-1]
	if last.Kind != EffectStartTimer || last.Timer != TimerCooldown || last.Delay != 5*time.Minute {
		t.Fatalf("expected cooldown timer last, got %+v", last)
	}
}

func TestTransition_RearmSkipsSessionRepeats(t *testing.T) {
	pool := []models.Advertisement{{ID: "A"}, {ID: "B"}}
	s := State{Phase: PhaseClosing, Current: &pool[0], SessionShownCount: 1, ShownInSession: []string{"A"}}

	// Selector falls back to A because everything is globally shown.
	s, _ = Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerRotationGap, Pool: pool, Next: &pool[0]})
	if s.Phase != PhaseArmed || s.Current.ID != "B" {
		t.Fatalf("expected B, got %s %+v", s.Phase, s.Current)
	}
}

func TestTransition_RearmWhenCappedGoesIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAdsPerSession = 1
	pool := []models.Advertisement{{ID: "A"}, {ID: "B"}}
	s := State{Phase: PhaseClosing, Current: &pool[0], SessionShownCount: 1, ShownInSession: []string{"A"}}

	s, fx := Transition(cfg, s, Input{Event: EventTimer, Timer: TimerRotationGap, Pool: pool, Next: &pool[1]})
	if s.Phase != PhaseIdle || s.Current != nil || len(fx) != 0 {
		t.Fatalf("expected terminal idle, got %s %v", s.Phase, kinds(fx))
	}
}

func TestTransition_CooldownArmsFirstPoolEntry(t *testing.T) {
	pool := []models.Advertisement{{ID: "A"}, {ID: "B"}}
	s := State{Phase: PhaseExhausted, SessionShownCount: 2, ShownInSession: []string{"A", "B"}}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerCooldown, Pool: pool, Next: &pool[1]})

	if s.Phase != PhaseArmed || s.Current.ID != "A" {
		t.Fatalf("expected A armed directly, got %s %+v", s.Phase, s.Current)
	}
	if s.SessionShownCount != 0 || len(s.ShownInSession) != 0 {
		t.Fatalf("expected session cleared, got %+v", s)
	}
	equalKinds(t, fx, EffectStartTimer)
}

func TestTransition_CooldownWithEmptyPool(t *testing.T) {
	s := State{Phase: PhaseExhausted, SessionShownCount: 2}
	s, fx := Transition(DefaultConfig(), s, Input{Event: EventTimer, Timer: TimerCooldown})
	if s.Phase != PhaseIdle || len(fx) != 0 {
		t.Fatalf("expected idle, got %s", s.Phase)
	}
}

func TestTransition_UnmountCancelsEverything(t *testing.T) {
	s := State{Phase: PhaseVisible, Visible: true, Current: &models.Advertisement{ID: "A"}}
	s, fx := Transition(DefaultConfig(), s, Input{Event: EventUnmount})

	if !s.Unmounted || s.Visible {
		t.Fatalf("expected unmounted hidden state, got %+v", s)
	}
	cancelled := map[TimerKind]bool{}
	for _, e := range fx {
		if e.Kind == EffectCancelTimer {
			cancelled[e.Timer] = true
		}
	}
	for _, k := range allTimers {
		if !cancelled[k] {
			t.Errorf("timer %s not cancelled", k)
		}
	}

	// Every later input is ignored.
	_, fx = Transition(DefaultConfig(), s, Input{Event: EventCandidate, Next: &models.Advertisement{ID: "B"}})
	if len(fx) != 0 {
		t.Errorf("expected unmounted placement to ignore input, got %v", kinds(fx))
	}
}

func TestTransition_Playback(t *testing.T) {
	video := &models.Advertisement{ID: "V", MediaURL: "live.m3u8"}
	s := State{Phase: PhaseVisible, Visible: true, Current: video, Playing: true, Muted: true}

	s, fx := Transition(DefaultConfig(), s, Input{Event: EventUnmute})
	equalKinds(t, fx, EffectSetMuted)
	if s.Muted {
		t.Fatal("expected unmuted")
	}

	s, fx = Transition(DefaultConfig(), s, Input{Event: EventPause})
	equalKinds(t, fx, EffectPause)
	if s.Playing {
		t.Fatal("expected paused")
	}

	s, fx = Transition(DefaultConfig(), s, Input{Event: EventPlay})
	equalKinds(t, fx, EffectPlay)
	if fx[0].Muted {
		t.Error("expected play to keep unmuted state")
	}

	s, fx = Transition(DefaultConfig(), s, Input{Event: EventPlaybackFailed})
	if s.Playing || len(fx) != 0 {
		t.Fatal("expected failure to revert to paused")
	}

	image := State{Phase: PhaseVisible, Visible: true, Current: &models.Advertisement{ID: "I", MediaURL: "a.jpg"}}
	if _, fx := Transition(DefaultConfig(), image, Input{Event: EventPlay}); len(fx) != 0 {
		t.Error("expected playback commands to be ignored for images")
	}
}

func TestConfig_WithPlacement(t *testing.T) {
	cfg := DefaultConfig().WithPlacement(models.PlacementConfig{
		Position:           "home_top",
		DisplayDuration:    10,
		AutoRotateInterval: 2,
	})
	if cfg.DisplayDuration != 10*time.Second || cfg.AutoRotateInterval != 2*time.Minute {
		t.Errorf("unexpected durations %+v", cfg)
	}
	if cfg.MaxAdsPerSession != 5 {
		t.Errorf("expected default cap, got %d", cfg.MaxAdsPerSession)
	}
}
