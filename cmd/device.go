package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
)

func newDeviceCmd() *cobra.Command {
	var (
		dev  deviceFlags
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Send a single command to the fingerprint sensor",
	}
	cmd.PersistentFlags().StringVar(&dev.port, "port", "", "Serial port overriding $ARDUINO_PORT")
	cmd.PersistentFlags().IntVar(&dev.baud, "baud", 0, "Baud rate overriding $ARDUINO_BAUD_RATE")
	cmd.PersistentFlags().BoolVar(&dev.simulate, "simulate", false, "Talk to the in-memory simulator")
	cmd.PersistentFlags().DurationVar(&wait, "wait", 10*time.Second, "How long to wait for the sensor to connect")

	// withSession connects, runs fn and always closes the session.
	withSession := func(cmd *cobra.Command, fn func(ctx context.Context, s *device.Session) error) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dev.apply(cfg)
		ctx := cmd.Context()
		session, err := startSession(ctx, cfg, dev.simulate, wait)
		if err != nil {
			return err
		}
		defer session.Close()
		return fn(ctx, session)
	}

	var enrollID int
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a finger under a template id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *device.Session) error {
				fmt.Fprintf(cmd.OutOrStdout(), "place finger on the sensor (template %d)...\n", enrollID)
				id, err := s.Enroll(ctx, enrollID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enrolled template %d\n", id)
				return nil
			})
		},
	}
	enroll.Flags().IntVar(&enrollID, "id", 0, "Template id to store the finger under")
	_ = enroll.MarkFlagRequired("id")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Scan a finger and print the matched template id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *device.Session) error {
				fmt.Fprintln(cmd.OutOrStdout(), "place finger on the sensor...")
				id, err := s.Verify(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "matched template %d\n", id)
				return nil
			})
		},
	}

	var deleteID int
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete a template from the sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *device.Session) error {
				if err := s.Delete(ctx, deleteID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted template %d\n", deleteID)
				return nil
			})
		},
	}
	del.Flags().IntVar(&deleteID, "id", 0, "Template id to delete")
	_ = del.MarkFlagRequired("id")

	status := &cobra.Command{
		Use:   "status",
		Short: "Connect and print the sensor status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *device.Session) error {
				// Give the firmware a moment to report STATUS and COUNT.
				select {
				case <-ctx.Done():
					return errors.Wrap(ctx.Err(), "status")
				case <-time.After(500 * time.Millisecond):
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s.Snapshot())
			})
		},
	}

	cmd.AddCommand(enroll, verify, del, status)
	return cmd
}
