package domain

type SignalKind string

const (
	SignalTabActivated SignalKind = "tab_activated"
	SignalTabUpdated   SignalKind = "tab_updated"
	SignalWindowFocus  SignalKind = "window_focus"
	SignalIdleState    SignalKind = "idle_state"
)

type IdleState string

const (
	IdleActive IdleState = "active"
	IdleIdle   IdleState = "idle"
	IdleLocked IdleState = "locked"
)

// Signal is one browser observation delivered to the watcher.
type Signal struct {
	Kind SignalKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
	// Active marks tab_updated signals for the foreground tab.
	Active    bool      `json:"active,omitempty"`
	Focused   bool      `json:"focused,omitempty"`
	IdleState IdleState `json:"idleState,omitempty"`
	At        int64     `json:"at,omitempty"`
}

func (k SignalKind) Valid() bool {
	switch k {
	case SignalTabActivated, SignalTabUpdated, SignalWindowFocus, SignalIdleState:
		return true
	default:
		return false
	}
}

// Tab is the probe's view of the foreground tab.
type Tab struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
	Idle    bool   `json:"idle"`
}
