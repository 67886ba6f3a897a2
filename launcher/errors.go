package launcher

import (
	"errors"
	"fmt"
)

var (
	ErrMissingHandler     = errors.New("no HTTP handler configured")
	ErrMissingBaseURL     = errors.New("no base URL configured")
	ErrNoAssetLocator     = errors.New("no asset directory, marker or marker type configured")
	ErrMissingRuntimeHome = errors.New("GUI runtime home is not configured")
)

// ConfigError reports a launch configuration rejected before any side
// effect took place.
type ConfigError struct {
	Err    error // One of the ErrMissing*/ErrNoAssetLocator sentinels
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return "invalid launch configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("invalid launch configuration: %v (%s)", e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Stage names the launch step that failed.
type Stage string

const (
	StageResolveAssets Stage = "resolve_assets"
	StageStartServer   Stage = "start_server"
	StageHandoff       Stage = "handoff"
	StageSpawn         Stage = "spawn"
)

// StartupError reports a launch that failed after validation. Any server
// started by the launch has already been closed.
type StartupError struct {
	Stage Stage
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("launch failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}
