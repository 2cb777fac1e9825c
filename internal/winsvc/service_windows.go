//go:build windows

package winsvc

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

// EventLogCore opens the named event log source as a zap core. The returned
// func closes the source.
func EventLogCore(name string, level zapcore.LevelEnabler) (zapcore.Core, func(), error) {
	elog, err := eventlog.Open(name)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open event log %s: %w", name, err)
	}
	return newSinkCore(elog, level), func() { _ = elog.Close() }, nil
}

// IsWindowsService reports whether the service manager started the process.
func IsWindowsService() bool {
	ok, err := svc.IsWindowsService()
	return err == nil && ok
}

// handler adapts supervise to the service manager's control requests.
type handler struct {
	log   *zap.Logger
	grace time.Duration
	run   func(ctx context.Context) error
}

func (h *handler) Execute(_ []string, req <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	status <- svc.Status{State: svc.StartPending}

	stop := make(chan struct{})
	done := make(chan uint32, 1)
	go func() {
		done <- supervise(h.run, stop, h.grace, h.log)
	}()

	status <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}

	for {
		select {
		case code := <-done:
			status <- svc.Status{State: svc.StopPending}
			return false, code
		case cr := <-req:
			switch cr.Cmd {
			case svc.Interrogate:
				status <- cr.CurrentStatus
			case svc.Stop, svc.Shutdown:
				h.log.Info("stop requested", zap.Uint32("cmd", uint32(cr.Cmd)))
				status <- svc.Status{State: svc.StopPending, WaitHint: uint32(h.grace.Milliseconds())}
				close(stop)
				return false, <-done
			}
		}
	}
}

// RunService runs the named service until the service manager stops it or
// run returns. run's context is cancelled on stop.
func RunService(name string, log *zap.Logger, run func(ctx context.Context) error) error {
	return svc.Run(name, &handler{
		log:   log.With(zap.String("service", name)),
		grace: DefaultStopGrace,
		run:   run,
	})
}

// InstallConfig describes the service Install registers.
type InstallConfig struct {
	Name        string
	DisplayName string
	Description string
	ExePath     string
	Args        []string
}

// Install registers the service for automatic start, restarting it when it
// exits with a failure code, and creates its event log source.
func Install(c InstallConfig, log *zap.Logger) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to SCM: %w", err)
	}
	defer m.Disconnect()

	if s, err := m.OpenService(c.Name); err == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", c.Name)
	}

	s, err := m.CreateService(c.Name, c.ExePath, mgr.Config{
		DisplayName: c.DisplayName,
		Description: c.Description,
		StartType:   mgr.StartAutomatic,
	}, c.Args...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer s.Close()

	// A store that fails to open exits with exitFailed, not a crash.
	if err := s.SetRecoveryActions([]mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 10 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
		{Type: mgr.NoAction},
	}, uint32((24 * time.Hour).Seconds())); err != nil {
		log.Warn("set recovery actions", zap.Error(err))
	} else if err := s.SetRecoveryActionsOnNonCrashFailures(true); err != nil {
		log.Warn("enable recovery on failure exit codes", zap.Error(err))
	}

	if err := eventlog.InstallAsEventCreate(c.Name, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		log.Warn("could not install event log source", zap.Error(err))
	}

	log.Info("service installed", zap.String("service", c.Name), zap.Strings("args", c.Args))
	return nil
}

// Uninstall stops the service if it is running, then removes it and its
// event log source.
func Uninstall(name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	if err := stopAndWait(s, DefaultStopGrace); err != nil {
		return err
	}
	if err := s.Delete(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}

	_ = eventlog.Remove(name)
	return nil
}

// stopAndWait asks a running service to stop and polls until it has, for
// at most timeout.
func stopAndWait(s *mgr.Service, timeout time.Duration) error {
	st, err := s.Query()
	if err != nil || st.State == svc.Stopped {
		return nil
	}
	if st.State != svc.StopPending {
		if _, err := s.Control(svc.Stop); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if st, err = s.Query(); err != nil || st.State == svc.Stopped {
			return nil
		}
	}
	return fmt.Errorf("service did not stop within %s", timeout)
}

// ExePath is the running executable, registered as the service binary.
func ExePath() (string, error) {
	p, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("determine executable path: %w", err)
	}
	return p, nil
}
