package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dkeye/Dispatch/internal/adapters/rtc"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Probe local audio capability for browser-side calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd); err != nil {
				return err
			}
			caps, err := rtc.Probe(cmd.Context())
			if err != nil {
				fmt.Printf("  probe: %s (%v)\n", color.New(color.FgRed).Sprint("FAILED"), err)
			}
			fmt.Printf("  microphone: %s\n", availability(caps.Microphone))
			fmt.Printf("  speakers:   %s\n", availability(caps.Speakers))
			return nil
		},
	}
}

func availability(ok bool) string {
	if ok {
		return color.New(color.FgGreen).Sprint("available")
	}
	return color.New(color.FgYellow).Sprint("unavailable")
}
