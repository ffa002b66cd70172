// canboot-sim runs the CAN bootloader against a simulated board, bus and
// firmware server.
//
// Each cycle models one reset of the node: the bootloader validates the
// resident image, joins the bus, takes an update if the server offers one
// and starts the application or fails. With --state the board's flash and
// handoff region persist between invocations, so successive runs behave
// like successive power cycles.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/moffa90/go-canboot/bootloader"
	"github.com/moffa90/go-canboot/can/vcan"
	"github.com/moffa90/go-canboot/config"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/flash"
	"github.com/moffa90/go-canboot/fwserver"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/simboard"
	"github.com/moffa90/go-canboot/timer"
)

// fakeClockStep is how far simulated time moves per clock reading.
const fakeClockStep = 100 * time.Microsecond

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "canboot-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath    string
		statePath     string
		imagePath     string
		cycles        int
		realtime      bool
		requestUpdate bool
		logLevel      string
		logFormat     string
	)

	flagSet := pflag.NewFlagSet("canboot-sim", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML configuration file (default: built-in defaults)")
	flagSet.StringVar(&statePath, "state", "", "board state file, loaded before and saved after the run")
	flagSet.StringVar(&imagePath, "image", "", "firmware image to serve (.bin, .zst or .lz4), overrides server.image")
	flagSet.IntVar(&cycles, "cycles", 1, "number of boot cycles to run")
	flagSet.BoolVar(&realtime, "realtime", false, "run on the wall clock instead of simulated time")
	flagSet.BoolVar(&requestUpdate, "request-update", false, "start as if the application had requested an update")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if cycles < 1 {
		return fmt.Errorf("--cycles must be at least 1, got %d", cycles)
	}

	logger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if imagePath != "" {
		cfg.Server.Image = imagePath
	}

	board, err := newBoard(cfg, logger)
	if err != nil {
		return err
	}
	if statePath != "" {
		if err := board.LoadState(statePath); err != nil {
			return err
		}
	}
	if requestUpdate {
		if err := board.RequestUpdate(); err != nil {
			return fmt.Errorf("requesting update: %w (boot the application once first)", err)
		}
	}

	var image []byte
	if cfg.Server.Image != "" && !cfg.Server.Disabled {
		if image, err = firmware.LoadImageFile(cfg.Server.Image); err != nil {
			return err
		}
		logger.Info("serving image", "file", cfg.Server.Image, "size", len(image), "path", cfg.Server.Path)
	}

	var clock timer.Clock = timer.Real()
	if !realtime {
		clock = timer.NewFakeClock(time.Now(), fakeClockStep)
	}

	bus := vcan.NewBus(clock, cfg.Speed())
	if !cfg.Server.Disabled {
		opts := append(cfg.ServerOptions(image), fwserver.WithLogger(logger.With("component", "fwserver")))
		fwserver.New(clock, opts...).Attach(bus)
	}

	opts := append(cfg.BootloaderOptions(),
		bootloader.WithLogger(bootloader.NewSlogLogger(logger.With("component", "bootloader"))),
		bootloader.WithProgressCallback(printProgress),
	)
	bl := bootloader.New(bootloader.Hardware{
		CAN:      bus.Attach(protocol.Classify),
		Flash:    board.Flash(),
		Handoff:  board,
		Board:    board,
		Launcher: board,
		Clock:    clock,
	}, opts...)

	var last bootloader.Outcome
	for i := 1; i <= cycles; i++ {
		last = bl.Run()
		printOutcome(i, last)
	}

	if statePath != "" {
		if err := board.SaveState(statePath); err != nil {
			return err
		}
	}
	if last.Phase == bootloader.PhaseFail {
		return fmt.Errorf("last cycle failed at %s: %w", last.Stage, last.Err)
	}
	return nil
}

func newBoard(cfg *config.Config, logger *slog.Logger) (*simboard.Board, error) {
	uid, err := cfg.UniqueID()
	if err != nil {
		return nil, err
	}
	opts := []simboard.Option{
		simboard.WithName(cfg.Board.Name),
		simboard.WithHardwareVersion(cfg.Board.HWMajor, cfg.Board.HWMinor),
		simboard.WithLogger(logger.With("component", "board")),
	}
	if cfg.Board.Strap != nil {
		opts = append(opts, simboard.WithStrap(*cfg.Board.Strap))
	}
	fl := flash.NewSim(cfg.Layout.FlashBase, cfg.Layout.FlashSize)
	return simboard.New(uid, fl, opts...), nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	handlerOptions := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOptions)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOptions)), nil
	default:
		return nil, fmt.Errorf("--log-format must be text or json, got %q", format)
	}
}

func printProgress(p bootloader.Progress) {
	if p.Phase != bootloader.PhaseStream {
		return
	}
	fmt.Printf("  [%s] %5.1f%% (%d/%d bytes)\n", p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
}

func printOutcome(cycle int, out bootloader.Outcome) {
	switch out.Phase {
	case bootloader.PhaseBoot:
		fmt.Printf("cycle %d: booted application (node %d, updated: %v)\n", cycle, out.NodeID, out.Updated)
	default:
		fmt.Printf("cycle %d: failed at %s: %v\n", cycle, out.Stage, out.Err)
	}
}
