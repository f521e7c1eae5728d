package models

import "time"

type EngineState string

const (
	StateIdle    EngineState = "idle"
	StateRunning EngineState = "running"
	StatePaused  EngineState = "paused"
	StateStopped EngineState = "stopped"
)

type EventType string

const (
	EventAnalysis  EventType = "analysis"
	EventOperation EventType = "operation"
	EventUpdate    EventType = "update"
	EventAlert     EventType = "alert"
	EventState     EventType = "state"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event: то, что уходит подписчикам (websocket, telegram).
type Event struct {
	Type    EventType `json:"type"`
	Level   Level     `json:"level,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type AlertPayload struct {
	Message string `json:"message"`
	Asset   string `json:"asset,omitempty"`
}

type StatePayload struct {
	State  EngineState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

type OperationPayload struct {
	Operation Operation  `json:"operation"`
	Stats     DailyStats `json:"stats"`
}

type UpdatePayload struct {
	State   EngineState `json:"state"`
	Session Session     `json:"session"`
	Stats   DailyStats  `json:"stats"`
	Message string      `json:"message,omitempty"`
}

func NewAlert(at time.Time, level Level, asset, msg string) Event {
	return Event{Type: EventAlert, Level: level, Time: at, Payload: AlertPayload{Message: msg, Asset: asset}}
}

func NewStateEvent(at time.Time, state EngineState, reason string) Event {
	return Event{Type: EventState, Level: LevelInfo, Time: at, Payload: StatePayload{State: state, Reason: reason}}
}
