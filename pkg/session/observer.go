package session

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Role identifies who produced a conversation entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
)

// Entry is one line of the conversation log.
type Entry struct {
	Role    Role            `json:"role"`
	Text    string          `json:"text"`
	Quality json.RawMessage `json:"quality,omitempty"`
	Turn    int             `json:"turn,omitempty"`
	At      time.Time       `json:"at"`
}

// Observer receives session events. Methods are called on the event loop
// and must not block.
type Observer interface {
	OnPhase(from, to Phase)
	OnLevel(level float64)
	OnConnection(open bool)
	OnTranscript(text string)
	OnEntry(e Entry)
	OnError(err error)
	OnReset()
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnPhase(Phase, Phase) {}
func (NopObserver) OnLevel(float64)      {}
func (NopObserver) OnConnection(bool)    {}
func (NopObserver) OnTranscript(string)  {}
func (NopObserver) OnEntry(Entry)        {}
func (NopObserver) OnError(error)        {}
func (NopObserver) OnReset()             {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) OnPhase(from, to Phase) {
	for _, o := range obs {
		o.OnPhase(from, to)
	}
}

func (obs Observers) OnLevel(level float64) {
	for _, o := range obs {
		o.OnLevel(level)
	}
}

func (obs Observers) OnConnection(open bool) {
	for _, o := range obs {
		o.OnConnection(open)
	}
}

func (obs Observers) OnTranscript(text string) {
	for _, o := range obs {
		o.OnTranscript(text)
	}
}

func (obs Observers) OnEntry(e Entry) {
	for _, o := range obs {
		o.OnEntry(e)
	}
}

func (obs Observers) OnError(err error) {
	for _, o := range obs {
		o.OnError(err)
	}
}

func (obs Observers) OnReset() {
	for _, o := range obs {
		o.OnReset()
	}
}

// LogObserver writes session events to a logger. It is the console view
// of a session run without the dashboard.
type LogObserver struct {
	NopObserver
	Logger *slog.Logger
}

func (o LogObserver) OnPhase(from, to Phase) {
	o.Logger.Info("phase", "from", from, "to", to)
}

func (o LogObserver) OnConnection(open bool) {
	if open {
		o.Logger.Info("session connected")
	} else {
		o.Logger.Warn("session disconnected")
	}
}

func (o LogObserver) OnTranscript(text string) {
	o.Logger.Info("you said", "text", text)
}

func (o LogObserver) OnEntry(e Entry) {
	o.Logger.Info(string(e.Role), "text", e.Text, "quality", string(e.Quality))
}

func (o LogObserver) OnError(err error) {
	o.Logger.Error("session error", "kind", KindOf(err), "error", err)
}

var (
	_ Observer = NopObserver{}
	_ Observer = Observers(nil)
	_ Observer = LogObserver{}
)
