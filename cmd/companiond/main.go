// companiond runs the companion client runtime against a TCP companion
// server and serves its state over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danmuck/companion/internal/attestation"
	"github.com/danmuck/companion/internal/bridge"
	"github.com/danmuck/companion/internal/client"
	"github.com/danmuck/companion/internal/config"
	"github.com/danmuck/companion/internal/observability"
	"github.com/spf13/pflag"
)

// modVersion is set via ldflags at build time.
var modVersion = "dev"

type options struct {
	configPath     string
	serverAddr     string
	httpAddr       string
	attestationDir string
	artifactPath   string
	corsOrigins    []string
	reconnect      time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "companiond: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	opts := options{}
	flagSet := pflag.NewFlagSet("companiond", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", config.DefaultFileName, "companion config path (created with defaults when missing)")
	flagSet.StringVarP(&opts.serverAddr, "server", "s", "127.0.0.1:7780", "companion server address")
	flagSet.StringVar(&opts.httpAddr, "http", "127.0.0.1:"+strconv.Itoa(bridge.DefaultStatusPort), "status HTTP listen address (empty disables)")
	flagSet.StringVar(&opts.attestationDir, "attestation-dir", "", "directory holding "+attestation.ManifestFile)
	flagSet.StringVar(&opts.artifactPath, "artifact", "", "artifact hashed for attestation (default: this executable)")
	flagSet.StringSliceVar(&opts.corsOrigins, "cors-origin", nil, "allowed CORS origins for the status API")
	flagSet.DurationVar(&opts.reconnect, "reconnect", 2*time.Second, "delay between reconnect attempts")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger := observability.InitLogger("companiond")
	observability.RegisterMetrics()
	metrics := observability.Recorder{}

	manager := config.NewManager(opts.configPath)
	cfg, err := manager.GetOrLoad()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Str("path", manager.Path()).Msg("config has invalid entries, continuing with sanitised values")
	}

	att := attestation.Loader{
		FS:           attestation.DirFS(opts.attestationDir),
		ArtifactPath: opts.artifactPath,
		Logger:       logger.With().Str("component", "attestation").Logger(),
		Metrics:      metrics,
	}.Load(modVersion)

	link := bridge.NewLink(bridge.DefaultConfig().Limits)
	rt := client.New(client.Options{
		Config:      cfg,
		Attestation: att,
		Proof:       &attestation.LauncherProof{Logger: logger},
		Sender:      link,
		Logger:      logger.With().Str("component", "runtime").Logger(),
		Metrics:     metrics,
		Store:       manager,
		Notify: func(msg string) {
			logger.Warn().Msg(msg)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	var httpServer *http.Server
	if opts.httpAddr != "" {
		status := bridge.NewStatusServer("companiond", rt, logger, opts.corsOrigins)
		httpServer = &http.Server{
			Addr:              opts.httpAddr,
			Handler:           status.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", opts.httpAddr).Msg("status server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		}()
	}

	b := bridge.New(bridge.Config{
		ServerAddr:     opts.serverAddr,
		ReconnectDelay: opts.reconnect,
	}, rt, link, logger.With().Str("component", "bridge").Logger())
	go func() {
		errCh <- b.Run(ctx)
	}()

	logger.Info().
		Str("server", opts.serverAddr).
		Str("client_version", rt.ClientVersion()).
		Msg("companiond started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	stop()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("status server shutdown failed")
		}
	}
	logger.Info().Msg("companiond stopped")
	return runErr
}
