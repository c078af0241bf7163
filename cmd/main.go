package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"calsync/internal/caldav"
	"calsync/internal/config"
	"calsync/internal/google"
	"calsync/internal/syncer"
	"calsync/internal/web"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calsync",
		Usage: "Copy whole-day events from source calendars into target calendars.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "calendars.yaml",
				EnvVars: []string{"CALSYNC_CONFIG"},
				Usage:   "YAML file listing the calendar pairs.",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			diffCommand(),
			syncCommand(),
			serveCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:      "auth",
		Usage:     "Authenticate with a Google account to get an API token.",
		ArgsUsage: "[account]",
		Action: func(c *cli.Context) error {
			logger := loggerFromEnv()
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.OAuthConfig(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := oauthConfig.Exchange(c.Context, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := c.Args().First()
			if accountName == "" {
				fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
				accountName, _ = reader.ReadString('\n')
				accountName = strings.TrimSpace(accountName)
			}
			if accountName == "" {
				return errors.New("account name must not be empty")
			}
			tokenFile := google.TokenFile(".", accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars visible to the configured account.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "google or caldav. Defaults to the backend of the config file."},
		},
		Action: func(c *cli.Context) error {
			logger := loggerFromEnv()

			backendName := c.String("backend")
			if backendName == "" {
				cfg, err := config.Load(c.String("config"))
				if err != nil {
					return err
				}
				backendName = cfg.Backend
			}

			b, err := buildBackend(c.Context, logger, backendName)
			if err != nil {
				return err
			}
			calendars, err := b.Calendars(c.Context)
			if err != nil {
				return err
			}

			ids := lo.Keys(calendars)
			slices.Sort(ids)
			for _, id := range ids {
				fmt.Printf("%s\t%s\n", id, calendars[id])
			}
			return nil
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "Show the merged view of every calendar pair.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the comparison as JSON."},
		},
		Action: func(c *cli.Context) error {
			logger := loggerFromEnv()

			s, err := newSyncer(c, logger, false)
			if err != nil {
				return err
			}

			comparisons := s.Compare(c.Context)
			if err := printOutput(c.Bool("json"), comparisons); err != nil {
				return err
			}
			return comparisonErrors(comparisons)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Create the missing source events in every target calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.BoolFlag{Name: "show", Usage: "Print the merged view after synchronising."},
			&cli.BoolFlag{Name: "json", Usage: "With --show, print the comparison as JSON."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds until interrupted."},
		},
		Action: func(c *cli.Context) error {
			logger := loggerFromEnv()

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			s, err := newSyncer(c, logger, c.Bool("dry-run"))
			if err != nil {
				return err
			}

			cycle := func() error {
				created, syncErr := s.Sync(c.Context)
				logger.Info("Synchronisation finished.", "created", created)

				if c.Bool("show") {
					if err := printOutput(c.Bool("json"), s.Compare(c.Context)); err != nil {
						return err
					}
				}
				return syncErr
			}

			// --watch keeps re-running full cycles; failures are logged, not fatal.
			if c.IsSet("watch") {
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := cycle(); err != nil {
						logger.Error("Sync cycle failed", "error", err)
					}
					select {
					case <-c.Context.Done():
						return nil
					case <-ticker.C:
					}
				}
			}

			logger.Info("Running a single sync cycle.")
			if err := cycle(); err != nil {
				return fmt.Errorf("sync cycle failed: %w", err)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the comparison page and the sync endpoint over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":8080", EnvVars: []string{"LISTEN_ADDR"}, Usage: "Address to listen on."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Make POST /sync log what would be synced without making changes."},
		},
		Action: func(c *cli.Context) error {
			logger := loggerFromEnv()

			s, err := newSyncer(c, logger, c.Bool("dry-run"))
			if err != nil {
				return err
			}

			srv, err := web.NewServer(logger, s)
			if err != nil {
				return err
			}
			return srv.Run(c.Context, c.String("listen"))
		},
	}
}

// backend is a calendar service that can also enumerate calendars.
type backend interface {
	syncer.Backend
	Calendars(ctx context.Context) (map[string]string, error)
}

func buildBackend(ctx context.Context, logger *slog.Logger, name string) (backend, error) {
	switch name {
	case config.BackendCalDAV:
		username, password := os.Getenv("CALDAV_USERNAME"), os.Getenv("CALDAV_PASSWORD")
		if username == "" || password == "" {
			return nil, errors.New("CALDAV_USERNAME and CALDAV_PASSWORD environment variables must be set")
		}
		client, err := caldav.NewClient(logger, os.Getenv("CALDAV_URL"), username, password)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil

	case config.BackendGoogle, "":
		account, err := google.ResolveAccount(logger, ".", os.Getenv("GOOGLE_ACCOUNT"))
		if err != nil {
			return nil, err
		}
		client, err := google.NewClient(ctx, logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), account)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func newSyncer(c *cli.Context, logger *slog.Logger, dryRun bool) (*syncer.Syncer, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded calendar pairs.", "count", len(cfg.Calendars), "backend", cfg.Backend)

	b, err := buildBackend(c.Context, logger, cfg.Backend)
	if err != nil {
		return nil, err
	}
	return syncer.NewSyncer(logger, b, cfg.Calendars, syncer.Options{
		Workers: cfg.Workers,
		Retries: cfg.Retries,
		DryRun:  dryRun,
	}), nil
}

func printOutput(asJSON bool, comparisons []syncer.Comparison) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(comparisons)
	}
	printComparisons(os.Stdout, comparisons)
	return nil
}

func comparisonErrors(comparisons []syncer.Comparison) error {
	return errors.Join(lo.FilterMap(comparisons, func(c syncer.Comparison, _ int) (error, bool) {
		return c.Err, c.Err != nil
	})...)
}

func loggerFromEnv() *slog.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	return setupLogger(logLevel)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
