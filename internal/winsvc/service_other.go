//go:build !windows

package winsvc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var errUnsupported = errors.New("windows services are not supported on this platform")

// EventLogCore is unavailable outside Windows.
func EventLogCore(_ string, _ zapcore.LevelEnabler) (zapcore.Core, func(), error) {
	return nil, func() {}, errUnsupported
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool { return false }

func RunService(_ string, _ *zap.Logger, _ func(ctx context.Context) error) error {
	return errUnsupported
}

// InstallConfig describes the service Install registers.
type InstallConfig struct {
	Name        string
	DisplayName string
	Description string
	ExePath     string
	Args        []string
}

func Install(_ InstallConfig, _ *zap.Logger) error {
	return errUnsupported
}

func Uninstall(_ string) error {
	return errUnsupported
}

// ExePath returns the path to the currently running executable.
func ExePath() (string, error) {
	return "", errUnsupported
}
