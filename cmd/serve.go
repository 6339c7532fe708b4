package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/config"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/hostid"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/safego"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/server"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/attendance"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

func newServeCmd() *cobra.Command {
	var (
		dev      deviceFlags
		host     string
		httpPort int
		noEvents bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attendance API and keep the sensor connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dev.apply(cfg)
			if host != "" {
				cfg.Server.Host = host
			}
			if httpPort > 0 {
				cfg.Server.Port = httpPort
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, dev.simulate, !noEvents)
		},
	}

	cmd.Flags().StringVar(&dev.port, "port", "", "Serial port overriding $ARDUINO_PORT")
	cmd.Flags().IntVar(&dev.baud, "baud", 0, "Baud rate overriding $ARDUINO_BAUD_RATE")
	cmd.Flags().BoolVar(&dev.simulate, "simulate", false, "Use the in-memory sensor simulator instead of a serial port")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host overriding $SERVER_HOST")
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP listen port overriding $SERVER_PORT")
	cmd.Flags().BoolVar(&noEvents, "no-event-log", false, "Do not persist device events")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, simulate, recordEvents bool) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := newTransport(cfg, simulate)
	if err != nil {
		return err
	}
	session, err := device.NewSession(transport, cfg.Session())
	if err != nil {
		return err
	}
	defer session.Close()

	svc, err := attendance.NewService(session, store)
	if err != nil {
		return err
	}

	hub := server.NewHub(session.Snapshot)
	hubEvents, unsubscribeHub := session.Subscribe(128)
	defer unsubscribeHub()

	var sink storage.EventSink
	if recordEvents {
		sink = store
	}
	recorder := storage.NewEventRecorder(sink, hostid.ID())
	recorderEvents, unsubscribeRecorder := session.Subscribe(128)
	defer unsubscribeRecorder()

	api := server.New(svc, store, session, hub, server.Options{
		AuthToken:  cfg.Server.AuthToken,
		CORSOrigin: cfg.Server.CORSOrigin,
	})

	if err := session.Start(ctx); err != nil {
		return err
	}
	log.Info().
		Str("device", cfg.Device.Port).
		Bool("simulate", simulate).
		Str("db", store.Path()).
		Str("addr", cfg.Addr()).
		Msg("fpattend serving")

	group, gctx := errgroup.WithContext(ctx)
	safego.GroupGo(gctx, group, "http-server", func(ctx context.Context) error {
		return api.Serve(ctx, cfg.Addr())
	})
	safego.GroupGo(gctx, group, "ws-hub", func(ctx context.Context) error {
		return hub.Run(ctx, hubEvents)
	})
	safego.GroupGo(gctx, group, "event-recorder", func(ctx context.Context) error {
		return recorder.Run(ctx, recorderEvents)
	})
	return group.Wait()
}
