package models

import (
	"errors"
	"fmt"
)

var (
	ErrAssetUnavailable  = errors.New("asset unavailable")
	ErrSettlementTimeout = errors.New("settlement timeout")
	ErrNotConnected      = errors.New("broker session is not connected")
	ErrNoAssets          = errors.New("no assets configured")
	ErrEngineRunning     = errors.New("engine is running")
	ErrInvalidPolicy     = errors.New("invalid money policy")
)

// ConnectError: ошибка аутентификации или сети при подключении к брокеру.
type ConnectError struct {
	Auth bool
	Err  error
}

func (e *ConnectError) Error() string {
	kind := "network"
	if e.Auth {
		kind = "auth"
	}
	return fmt.Sprintf("connect (%s): %v", kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PlacementError: брокер не принял ордер, ставка не потеряна.
type PlacementError struct {
	Asset  string
	Reason string
	Err    error
}

func (e *PlacementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("place %s: %s: %v", e.Asset, e.Reason, e.Err)
	}
	return fmt.Sprintf("place %s: %s", e.Asset, e.Reason)
}

func (e *PlacementError) Unwrap() error { return e.Err }
