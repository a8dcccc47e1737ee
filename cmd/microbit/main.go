package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/NLCLC-CM/microbit/internal/app"
	"github.com/NLCLC-CM/microbit/internal/config"
	"github.com/NLCLC-CM/microbit/internal/transport"
	"github.com/NLCLC-CM/microbit/pkg/wire"
)

var (
	configPath string
	envFiles   []string

	transportKind string
	device        string
	baud          int
	readTimeout   time.Duration
	addr          string
	web           bool
	console       bool
	demo          bool
	logLevel      string

	author      string
	maxFragment int
	interval    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "microbit",
	Short: "microbit - relay messages from a micro:bit serial link",
	Long: `microbit reads newline-delimited "author,text" records from a serial link,
joins records the device split with a trailing "$", and fans the completed
messages out to the console, an in-memory store behind a web view, and live
SSE/WebSocket clients.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay",
	Long: `Start the relay.

Settings are applied in this order, later ones winning: built-in defaults, the
YAML file given with --config, .env files, MICROBIT_* environment variables and
finally command line flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Starting relay",
			"transport", cfg.Transport.Kind,
			"device", cfg.Transport.Device,
			"web", cfg.Web.Enabled,
			"addr", cfg.Web.Addr)
		return app.New(cfg, os.Stdout).Run(ctx)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send a message the way a device does",
	Long: `Send a message over the transport, split into wire fragments like a
micro:bit radio would. Without arguments every line read from stdin is sent
as one message.

With --transport stdin the wire lines are written to stdout, so they can be
piped into "microbit run --transport stdin".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := setupLogging(cfg.LogLevel); err != nil {
			return err
		}

		out, err := transport.Dial(cfg.Transport)
		if err != nil {
			return err
		}
		defer func() { _ = out.Close() }()

		if len(args) > 0 {
			return sendMessage(out, strings.Join(args, " "))
		}

		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Type messages, one per line. Ctrl-D ends.")
		}
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == "" {
				continue
			}
			if err := sendMessage(out, scanner.Text()); err != nil {
				return err
			}
		}
		return scanner.Err()
	},
}

func sendMessage(out io.Writer, body string) error {
	lines, err := wire.Split(author, body, maxFragment)
	if err != nil {
		return err
	}
	for i, line := range lines {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		if _, err := io.WriteString(out, line); err != nil {
			return fmt.Errorf("failed to write fragment: %w", err)
		}
	}
	slog.Debug("Message sent", "author", author, "fragments", len(lines))
	return nil
}

// loadConfig reads config file and environment, then applies the flags the user set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport.Kind = transportKind
	}
	if flags.Changed("device") {
		cfg.Transport.Device = device
	}
	if flags.Changed("baud") {
		cfg.Transport.Baud = baud
	}
	if flags.Changed("read-timeout") {
		cfg.Transport.ReadTimeout = readTimeout
	}
	if flags.Changed("addr") {
		cfg.Web.Addr = addr
	}
	if flags.Changed("web") {
		cfg.Web.Enabled = web
	}
	if flags.Changed("console") {
		cfg.Console = console
	}
	if flags.Changed("demo") {
		cfg.Demo = demo
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging logs to stderr; stdout belongs to the console sink
func setupLogging(name string) error {
	level, err := config.ParseLevel(name)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Env files to load, missing files are ignored")
	rootCmd.PersistentFlags().StringVarP(&transportKind, "transport", "t", config.KindSerial, "Transport: serial, pty or stdin")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", config.DefaultDevice, "Serial device (for send --transport pty: the device printed by the relay)")
	rootCmd.PersistentFlags().IntVarP(&baud, "baud", "b", 115200, "Serial baud rate")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	runCmd.Flags().DurationVar(&readTimeout, "read-timeout", time.Hour, "Stop ingesting when the link stays silent this long (0 disables)")
	runCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:3030", "Web view listen address")
	runCmd.Flags().BoolVar(&web, "web", true, "Serve the web view")
	runCmd.Flags().BoolVar(&console, "console", true, "Print messages to stdout")
	runCmd.Flags().BoolVar(&demo, "demo", false, "Seed the store with sample messages")

	sendCmd.Flags().StringVar(&author, "author", "micro:bit", "Author sent with every message")
	sendCmd.Flags().IntVar(&maxFragment, "max-fragment", 18, "Maximum characters of text per wire line")
	sendCmd.Flags().DurationVar(&interval, "interval", 0, "Pause between fragments")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
