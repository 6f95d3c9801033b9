package main

import (
	"github.com/spf13/cobra"
)

const appName = "diskii"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: appName + " - Disk II floppy emulator over an SD card backing store",
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(convertCmd())
	cmd.AddCommand(inspectCmd())
	cmd.AddCommand(fsviewCmd())
	return cmd
}
