package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/retrofloppy/diskii/fat16"
	"github.com/retrofloppy/diskii/sdcard"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "inspect <card-image>",
		Short:        "List the root directory entries of a card image",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), args[0])
		},
	}
	return cmd
}

func runInspect(ctx context.Context, imagePath string) error {
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

	entries, err := vol.ListRoot()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tPROTECT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", e.DisplayName(), e.SizeBytes, modTimeString(e), e.Attr&0x01 != 0)
	}
	return w.Flush()
}

func modTimeString(e fat16.DirEntry) string {
	year := int(e.ModDate>>9) + 1980
	month := int(e.ModDate >> 5 & 0x0F)
	day := int(e.ModDate & 0x1F)
	hour := int(e.ModTime >> 11)
	min := int(e.ModTime >> 5 & 0x3F)
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", year, month, day, hour, min)
}
