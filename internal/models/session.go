package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AccountMode string

const (
	AccountPractice AccountMode = "PRACTICE"
	AccountReal     AccountMode = "REAL"
)

func ParseAccountMode(s string) (AccountMode, error) {
	switch AccountMode(strings.ToUpper(strings.TrimSpace(s))) {
	case AccountPractice:
		return AccountPractice, nil
	case AccountReal:
		return AccountReal, nil
	}
	return "", fmt.Errorf("unknown account mode %q", s)
}

// Session: снимок состояния брокерской сессии.
type Session struct {
	Connected   bool            `json:"connected"`
	AccountMode AccountMode     `json:"account_mode"`
	Balance     decimal.Decimal `json:"balance"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ConnectionEventKind string

const (
	ConnectionLost     ConnectionEventKind = "lost"
	ConnectionRestored ConnectionEventKind = "restored"
	ConnectionFatal    ConnectionEventKind = "fatal"
)

type ConnectionEvent struct {
	Kind ConnectionEventKind
	Err  error
	At   time.Time
}

// ConnectionHealth counts reconnect activity since the last success.
type ConnectionHealth struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalReconnects     int       `json:"total_reconnects"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	LastError           string    `json:"last_error,omitempty"`
}
