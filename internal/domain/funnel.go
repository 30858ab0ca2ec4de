package domain

import "encoding/json"

// Funnel stages, from least to most engaged.
const (
	StagePending   = "pending"
	StageNotified  = "notified"
	StageOpened    = "opened"
	StageClicked   = "clicked"
	StagePurchased = "purchased"
)

// Funnel is the engagement lifecycle of a subscription.
//
// Flags only move from false to true. The one exception is ReleaseClaim, which
// returns a claimed-but-unsent subscription to pending. A funnel that is not
// notified never carries opened, clicked or purchased.
type Funnel struct {
	notified  bool
	opened    bool
	clicked   bool
	purchased bool
}

// RestoreFunnel rebuilds a funnel from persisted flags. Flags that would break
// the notified ordering are dropped.
func RestoreFunnel(notified, opened, clicked, purchased bool) Funnel {
	if !notified {
		return Funnel{}
	}
	return Funnel{notified: true, opened: opened, clicked: clicked, purchased: purchased}
}

func (f Funnel) Notified() bool  { return f.notified }
func (f Funnel) Opened() bool    { return f.opened }
func (f Funnel) Clicked() bool   { return f.clicked }
func (f Funnel) Purchased() bool { return f.purchased }

// Pending reports whether the subscription still waits for a notification.
func (f Funnel) Pending() bool { return !f.notified }

// MarkNotified claims a pending funnel. The bool is false when it was already claimed.
func (f Funnel) MarkNotified() (Funnel, bool) {
	if f.notified {
		return f, false
	}
	f.notified = true
	return f, true
}

// ReleaseClaim returns a notified funnel to pending after a failed send.
// It refuses once any engagement has been recorded.
func (f Funnel) ReleaseClaim() (Funnel, bool) {
	if !f.notified || f.opened || f.clicked || f.purchased {
		return f, false
	}
	return Funnel{}, true
}

// MarkOpened records an open. It is a no-op before notification.
func (f Funnel) MarkOpened() (Funnel, bool) {
	if !f.notified || f.opened {
		return f, false
	}
	f.opened = true
	return f, true
}

// MarkClicked records a click, which also counts as an open.
func (f Funnel) MarkClicked() (Funnel, bool) {
	if !f.notified || (f.opened && f.clicked) {
		return f, false
	}
	f.opened = true
	f.clicked = true
	return f, true
}

// MarkPurchased records an attributed purchase and backfills opened and clicked.
func (f Funnel) MarkPurchased() (Funnel, bool) {
	if !f.notified || f.purchased {
		return f, false
	}
	f.opened = true
	f.clicked = true
	f.purchased = true
	return f, true
}

// Stage returns the furthest stage reached.
func (f Funnel) Stage() string {
	switch {
	case f.purchased:
		return StagePurchased
	case f.clicked:
		return StageClicked
	case f.opened:
		return StageOpened
	case f.notified:
		return StageNotified
	default:
		return StagePending
	}
}

type funnelJSON struct {
	Notified  bool   `json:"notified"`
	Opened    bool   `json:"opened"`
	Clicked   bool   `json:"clicked"`
	Purchased bool   `json:"purchased"`
	Stage     string `json:"stage"`
}

func (f Funnel) MarshalJSON() ([]byte, error) {
	return json.Marshal(funnelJSON{
		Notified:  f.notified,
		Opened:    f.opened,
		Clicked:   f.clicked,
		Purchased: f.purchased,
		Stage:     f.Stage(),
	})
}

func (f *Funnel) UnmarshalJSON(data []byte) error {
	var raw funnelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = RestoreFunnel(raw.Notified, raw.Opened, raw.Clicked, raw.Purchased)
	return nil
}
