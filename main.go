package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/kapitanov/chip8core/internal/driver"
	"github.com/kapitanov/chip8core/internal/hal"
	"github.com/kapitanov/chip8core/internal/termhal"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/spf13/cobra"
)

const (
	frontendSDL  = "sdl"
	frontendTerm = "term"
)

func init() {
	// SDL must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.Flags().BoolP("verbose", "v", false, "enable verbose logging")
	rate := cmd.Flags().IntP("rate", "r", driver.DefaultInstructionsPerSecond, "instructions per second")
	frontend := cmd.Flags().StringP("frontend", "f", frontendSDL, "presentation shell: sdl or term")
	seed := cmd.Flags().Uint64("seed", 0, "random seed, 0 picks one at startup")
	scale := cmd.Flags().Int("scale", hal.DefaultScale, "sdl window pixel scale")

	cmd.RunE = func(_ *cobra.Command, args []string) error {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))

		path := args[0]
		bs, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to load file %q: %w", path, err)
		}

		var opts []vm.Option
		if *seed != 0 {
			opts = append(opts, vm.WithRand(rand.New(rand.NewPCG(*seed, *seed))))
		}

		machine := vm.New(opts...)
		if err := machine.Load(bs); err != nil {
			return fmt.Errorf("unable to load rom %q: %w", path, err)
		}

		var h driver.HAL
		switch *frontend {
		case frontendSDL:
			sdlHAL, err := hal.New(*scale)
			if err != nil {
				return fmt.Errorf("unable to initialize hal: %w", err)
			}
			defer sdlHAL.Shutdown()
			h = sdlHAL

		case frontendTerm:
			termHAL, err := termhal.New()
			if err != nil {
				return fmt.Errorf("unable to initialize terminal: %w", err)
			}
			defer termHAL.Shutdown()
			h = termHAL

		default:
			return fmt.Errorf("unknown frontend %q", *frontend)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		d := driver.New(driver.Config{InstructionsPerSecond: *rate}, machine, h)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	}

	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}
