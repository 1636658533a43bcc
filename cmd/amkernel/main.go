// Command amkernel boots the kernel against a YAML manifest, optionally
// opening an interactive console and a binary trace log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/amkernel/internal/boot"
	"github.com/tinyrange/amkernel/internal/config"
	"github.com/tinyrange/amkernel/internal/debug"
	"github.com/tinyrange/amkernel/internal/sched"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "path to the boot manifest (YAML)")
		traceLog     = flag.String("trace", "", "path to write a binary dispatch trace to")
		interactive  = flag.Bool("interactive", false, "open an interactive console on stdout")
		duration     = flag.Duration("run-for", 0, "stop the kernel loop after this long (0 = run until interrupted)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "amkernel: -manifest is required")
		os.Exit(2)
	}

	if *traceLog != "" {
		if err := debug.OpenFile(*traceLog); err != nil {
			logger.Error("open trace log", "error", err)
			os.Exit(1)
		}
		defer debug.Close()
	}

	manifest, err := config.Load(*manifestPath)
	if err != nil {
		logger.Error("load manifest", "error", err)
		os.Exit(1)
	}

	cfg, err := manifest.Resolve(filepath.Dir(*manifestPath))
	if err != nil {
		logger.Error("resolve manifest", "error", err)
		os.Exit(1)
	}
	cfg.Log = logger

	if *interactive && term.IsTerminal(int(os.Stdout.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			logger.Error("enter raw mode", "error", err)
			os.Exit(1)
		}
		defer term.Restore(int(os.Stdin.Fd()), oldState)
		cfg.Console = os.Stdout
	} else {
		cfg.Console = os.Stdout
	}

	bar := progressbar.NewOptions(5,
		progressbar.OptionSetDescription("booting amkernel"),
		progressbar.OptionSetWriter(os.Stderr),
	)
	ops := sched.LoggingContextOps{Log: logger}

	bar.Describe("mmu + heap")
	k, err := boot.Boot(cfg, ops)
	bar.Add(5)
	if err != nil {
		logger.Error("boot failed", "error", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, *duration)
		defer timeoutCancel()
	}

	logger.Info("kernel loop starting")
	k.Loop(ctx)

	if halted, reason := k.Halted(); halted {
		logger.Error("kernel halted", "reason", reason)
		os.Exit(1)
	}
	logger.Info("kernel loop stopped")
	time.Sleep(0)
}
