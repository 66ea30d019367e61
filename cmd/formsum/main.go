package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/formsum/internal/app"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "formsum",
		Usage: "Live validation for country percentage forms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("FORMSUM_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./formsum.sqlite",
				Sources: cli.EnvVars("FORMSUM_DB_PATH"),
				Usage:   "SQLite file path for submissions and the outbox",
			},
			&cli.StringFlag{
				Name:    "schema",
				Sources: cli.EnvVars("FORMSUM_SCHEMA"),
				Usage:   "JSON or YAML JSON Schema describing the form (built-in form when empty)",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("FORMSUM_WEBHOOK_URL"),
				Usage:   "Target URL for submission.accepted events (events are logged when empty)",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("FORMSUM_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "dispatch-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("FORMSUM_DISPATCH_INTERVAL"),
				Usage:   "Outbox polling interval",
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Value:   30 * time.Minute,
				Sources: cli.EnvVars("FORMSUM_SESSION_TTL"),
				Usage:   "Evict sessions not edited for this long (0 disables)",
			},
			&cli.IntFlag{
				Name:    "max-sessions",
				Value:   10000,
				Sources: cli.EnvVars("FORMSUM_MAX_SESSIONS"),
				Usage:   "Maximum number of open sessions (0 disables)",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server (default)",
				Action: serve,
			},
			{
				Name:      "check",
				Usage:     "Validate one JSON snapshot and print the result",
				ArgsUsage: "[FILE|-]",
				Action:    check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg := app.Config{
		Addr:             c.String("addr"),
		DBPath:           c.String("db-path"),
		SchemaPath:       c.String("schema"),
		WebhookURL:       c.String("webhook-url"),
		WebhookSecret:    c.String("webhook-secret"),
		DispatchInterval: c.Duration("dispatch-interval"),
		SessionTTL:       c.Duration("session-ttl"),
		MaxSessions:      c.Int("max-sessions"),
	}

	server, closer, err := app.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			log.Printf("close resources: %v", closeErr)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case sig := <-sigCh:
		log.Printf("received signal %s", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func check(_ context.Context, c *cli.Command) error {
	raw, err := readSnapshot(c.Args().First(), c.Root().Reader)
	if err != nil {
		return err
	}

	result, err := app.CheckSnapshot(c.String("schema"), raw)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := fmt.Fprintln(c.Root().Writer, string(out)); err != nil {
		return err
	}
	if !result.IsValid {
		return cli.Exit("", 1)
	}
	return nil
}

func readSnapshot(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read snapshot from stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return raw, nil
}
