package winsvc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultStopGrace is how long a stop request waits for the server to shut
// down. A restore in progress runs to completion inside it.
const DefaultStopGrace = 30 * time.Second

// Exit codes reported to the service manager. A non-zero code counts as a
// failure for the recovery actions set by Install.
const (
	exitOK     uint32 = 0
	exitFailed uint32 = 1
)

// supervise runs run until it returns on its own or stop is closed. On stop
// the context passed to run is cancelled and run gets grace to return.
func supervise(run func(ctx context.Context) error, stop <-chan struct{}, grace time.Duration, log *zap.Logger) uint32 {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	select {
	case err := <-errCh:
		return exitCode(err, log)
	case <-stop:
	}

	cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return exitCode(err, log)
	case <-timer.C:
		log.Warn("timed out waiting for graceful shutdown", zap.Duration("grace", grace))
		return exitOK
	}
}

func exitCode(err error, log *zap.Logger) uint32 {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	log.Error("service stopped with error", zap.Error(err))
	return exitFailed
}
