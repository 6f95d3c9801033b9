package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/fsview"
	"github.com/retrofloppy/diskii/sdcard"
)

func fsviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fsview <card-image> <mountpoint>",
		Short:        "Mount a read-only FUSE view of a card image's root directory",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFsview(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func runFsview(ctx context.Context, imagePath, mountpoint string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("diskii: opening image: %w", err)
	}
	defer f.Close()

	tp := sdcard.NewFileTransport(f, nil)
	sd := sdcard.New(tp, nil)
	if err := sd.Init(ctx); err != nil {
		return fmt.Errorf("diskii: sd init: %w", err)
	}

	vol := fat16.New(sd, nil)
	if err := vol.Mount(); err != nil {
		return fmt.Errorf("diskii: fat16 mount: %w", err)
	}

	return fsview.Serve(mountpoint, vol, slog.Default())
}
