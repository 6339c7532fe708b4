package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports available on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := device.ListPorts()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				fmt.Fprintln(out, "no serial ports found")
				return nil
			}
			for _, port := range ports {
				fmt.Fprintln(out, port)
			}
			return nil
		},
	}
}
