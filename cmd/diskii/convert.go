package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrofloppy/diskii/convert"
	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/sdcard"
)

func convertCmd() *cobra.Command {
	var vol int

	cmd := &cobra.Command{
		Use:          "convert <card-image>",
		Short:        "Convert the newest DSK file on a card image into a NIC file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), args[0], byte(vol))
		},
	}

	cmd.Flags().IntVar(&vol, "vol", convert.DefaultVolume, "volume number to stamp into the NIC address fields")
	return cmd
}

func runConvert(ctx context.Context, imagePath string, vol byte) error {
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("diskii: opening image: %w", err)
	}
	defer f.Close()

	tp := sdcard.NewFileTransport(f, f)
	sd := sdcard.New(tp, nil)
	if err := sd.Init(ctx); err != nil {
		return fmt.Errorf("diskii: sd init: %w", err)
	}

	vol16 := fat16.New(sd, nil)
	if err := vol16.Mount(); err != nil {
		return fmt.Errorf("diskii: fat16 mount: %w", err)
	}

	dskEntry, err := vol16.FindNewest([3]byte{'D', 'S', 'K'})
	if err != nil {
		return fmt.Errorf("diskii: no DSK file found: %w", err)
	}

	nicEntry, err := convert.DSKToNICVolume(ctx, vol16, dskEntry, vol)
	if err != nil {
		return fmt.Errorf("diskii: converting %s: %w", dskEntry.DisplayName(), err)
	}

	fmt.Printf("converted %s -> %s\n", dskEntry.DisplayName(), nicEntry.DisplayName())
	return nil
}
