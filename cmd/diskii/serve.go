package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/retrofloppy/diskii/board"
	"github.com/retrofloppy/diskii/emulator"
	"github.com/retrofloppy/diskii/sdcard"
)

func serveCmd() *cobra.Command {
	var boardKind string
	var imagePath string
	var tickPeriod time.Duration

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the real-time Disk II service loop against a board",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), boardKind, imagePath, tickPeriod)
		},
	}

	cmd.Flags().StringVar(&boardKind, "board", "sim", "board binding to drive: sim|tamago")
	cmd.Flags().StringVar(&imagePath, "image", "", "card image file to back the simulated board (--board=sim only)")
	cmd.Flags().DurationVar(&tickPeriod, "tick", time.Microsecond*4, "interval between ServiceTick calls (--board=sim only)")
	return cmd
}

func runServe(ctx context.Context, boardKind, imagePath string, tickPeriod time.Duration) error {
	log := slog.Default()

	switch boardKind {
	case "sim":
		return runServeSim(ctx, log, imagePath, tickPeriod)
	case "tamago":
		return fmt.Errorf("diskii: --board=tamago requires a GOOS=tamago build flashed to target hardware; this host build only wires board.Sim")
	default:
		return fmt.Errorf("diskii: unknown --board %q, want sim or tamago", boardKind)
	}
}

// runServeSim drives the emulator against an in-process board.Sim backed by
// an ordinary image file, for developing and exercising the real-time loop
// without hardware. A real front panel would toggle Sim's phase/enable/
// write lines from another goroutine; this command only proves the loop
// mounts and streams against the image.
func runServeSim(ctx context.Context, log *slog.Logger, imagePath string, tickPeriod time.Duration) error {
	if imagePath == "" {
		return fmt.Errorf("diskii: --board=sim requires --image <card-image-file>")
	}
	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("diskii: opening image: %w", err)
	}
	defer f.Close()

	tp := sdcard.NewFileTransport(f, f)
	sim := board.NewSim(tp)

	e := emulator.New(log)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Mount(ctx, sim); err != nil {
		return fmt.Errorf("diskii: mount: %w", err)
	}
	log.Info("diskii: serving", slog.String("image", imagePath))

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.ServiceTick(ctx, sim); err != nil {
				log.Warn("diskii: service tick", slog.String("err", err.Error()))
			}
		}
	}
}
