package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gerrit-watch/internal/config"
	"gerrit-watch/internal/dispatch"
	"gerrit-watch/internal/filter"
	"gerrit-watch/internal/gerrit"
	"gerrit-watch/internal/nats"
	"gerrit-watch/internal/queue"
	"gerrit-watch/internal/registry"
	"gerrit-watch/internal/stream"
	"gerrit-watch/internal/ui"
)

// flagValues holds command-line overrides of the config file
type flagValues struct {
	config    string
	server    string
	port      int
	user      string
	key       string
	transport string
	logLevel  string
}

var flags flagValues

var rootCmd = &cobra.Command{
	Use:   "gerrit-watch",
	Short: "Watch Gerrit code review activity from the terminal",
	Long: `gerrit-watch follows a Gerrit server's event stream and shows the most
recently created open changes together with their latest review status.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			// Restore default signal handling so a second interrupt kills the process.
			<-ctx.Done()
			stop()
		}()
		return run(ctx, cfg, os.Stdout)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "Path to the YAML config file")
	f.StringVarP(&flags.server, "server", "s", "", "Gerrit server host name")
	f.IntVarP(&flags.port, "port", "p", 0, "Gerrit SSH port")
	f.StringVarP(&flags.user, "user", "u", "", "Gerrit user name")
	f.StringVarP(&flags.key, "key", "k", "", "Private key used to authenticate")
	f.StringVar(&flags.transport, "transport", "", "Event transport: ssh or nats")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flags.config != "" {
		var err error
		cfg, err = config.LoadConfig(flags.config)
		if err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("server") {
		cfg.Gerrit.Host = flags.server
	}
	if f.Changed("port") {
		cfg.Gerrit.Port = flags.port
	}
	if f.Changed("user") {
		cfg.Gerrit.Username = flags.user
	}
	if f.Changed("key") {
		cfg.Gerrit.KeyFile = flags.key
	}
	if f.Changed("transport") {
		cfg.Transport = flags.transport
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// shutdownGrace bounds how long run waits for the stream worker after quit
const shutdownGrace = time.Second

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	logger, closer := newLogger(cfg.Logging, os.Stderr)
	if closer != nil {
		defer closer.Close()
	}

	logger.Info("Starting gerrit-watch...")

	eventFilter, err := filter.New(&cfg.Filter, logger)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}
	if eventFilter.Enabled() && cfg.Filter.Script != "" {
		go func() {
			if err := eventFilter.Watch(ctx); err != nil {
				logger.Errorf("Filter script watcher stopped: %v", err)
			}
		}()
	}

	opener, checker, err := newOpener(cfg, logger)
	if err != nil {
		return err
	}

	events := queue.New()
	manager := stream.NewManager(opener, events, stream.Options{
		Prefetch: cfg.Stream.Prefetch,
		Attempts: cfg.Stream.Attempts,
		Cooldown: cfg.Stream.Cooldown,
		Filter:   eventFilter,
	}, logger)

	dispatcher := dispatch.NewDispatcher(registry.New(cfg.Registry.Capacity), logger)
	screen := ui.NewScreen(dispatcher, events, manager, stdout, ui.Options{Clear: true}, logger)

	errChan := make(chan error, 1)
	go func() {
		if checker != nil {
			// The stream worker keeps retrying, so a failed check is not fatal.
			if err := checker.CheckConnection(ctx); err != nil {
				logger.Warnf("Gerrit connection check failed: %v", err)
			}
		}
		errChan <- manager.Run(ctx)
	}()

	if err := screen.Loop(ctx, cfg.UI.PollInterval); err != nil {
		logger.Errorf("Display error: %v", err)
	}
	select {
	case err := <-errChan:
		if err != nil {
			logger.Errorf("Stream worker error: %v", err)
		}
	case <-time.After(shutdownGrace):
		logger.Warn("Stream worker did not stop in time, exiting anyway")
	}

	logger.Info("gerrit-watch stopped")
	return nil
}

// newOpener builds the session opener for the configured transport, and the
// startup checker when the transport has one
func newOpener(cfg *config.Config, logger *logrus.Logger) (stream.Opener, *gerrit.Checker, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		src := nats.NewSource(cfg.NATS.URL, cfg.NATS.Subject, cfg.NATS.QuerySubject,
			cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
		return stream.OpenerFunc(func(ctx context.Context) (stream.Session, error) {
			session, err := src.Open(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}), nil, nil
	default:
		src, err := gerrit.NewSource(cfg.Gerrit.Host, cfg.Gerrit.Port, cfg.Gerrit.Username,
			cfg.Gerrit.KeyFile, cfg.Gerrit.KnownHosts, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Gerrit source: %w", err)
		}

		return stream.OpenerFunc(func(ctx context.Context) (stream.Session, error) {
			session, err := src.Open(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}), gerrit.NewChecker(src, logger), nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
