package main

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/config"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// deviceFlags are shared by every command that opens the sensor.
type deviceFlags struct {
	port     string
	baud     int
	simulate bool
}

func (f *deviceFlags) apply(cfg *config.Config) {
	if f.port != "" {
		cfg.Device.Port = f.port
	}
	if f.baud > 0 {
		cfg.Device.BaudRate = f.baud
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootConfigPath)
	if err != nil {
		return nil, err
	}
	if rootDBPath != "" {
		cfg.Storage.Path = rootDBPath
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	return storage.Open(cfg.Storage.Path)
}

func newTransport(cfg *config.Config, simulate bool) (device.Transport, error) {
	if simulate {
		sim := device.NewSimulator()
		sim.Delay = 300 * time.Millisecond
		return sim, nil
	}
	return device.NewSerialTransport(cfg.Serial())
}

// startSession opens a session and waits up to wait for the first
// connection.
func startSession(ctx context.Context, cfg *config.Config, simulate bool, wait time.Duration) (*device.Session, error) {
	transport, err := newTransport(cfg, simulate)
	if err != nil {
		return nil, err
	}
	sessCfg := cfg.Session()
	sessCfg.ConnectDelay = 10 * time.Millisecond
	session, err := device.NewSession(transport, sessCfg)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := session.WaitConnected(waitCtx); err != nil {
		snap := session.Snapshot()
		_ = session.Close()
		return nil, errors.Wrapf(err, "device on %s not reachable (last error: %s)", cfg.Device.Port, snap.LastError)
	}
	return session, nil
}
