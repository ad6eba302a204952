package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/cinerelay/internal/clock"
	"github.com/mantonx/cinerelay/internal/config"
	"github.com/mantonx/cinerelay/internal/logger"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/core"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"github.com/mantonx/cinerelay/internal/modules/proxymodule/proxy"
	"github.com/spf13/cobra"
)

type acquireOptions struct {
	title    string
	cookie   string
	username string
	password string
	timeout  time.Duration
	jsonOut  bool
}

func newAcquireCmd(root *rootOptions) *cobra.Command {
	opts := &acquireOptions{}

	cmd := &cobra.Command{
		Use:   "acquire <info-hash|magnet-uri>",
		Short: "Run one acquisition and print the stream URL",
		Long: "Clears the account, submits the torrent, waits for it to finish and " +
			"prints the stream URL of the best video file. Authenticate with --cookie " +
			"or with --username and --password.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := root.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}
			return runAcquire(ctx, cm.GetConfig(), opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "title used to recognise the finished folder (required)")
	cmd.Flags().StringVar(&opts.cookie, "cookie", "", "session cookies, e.g. \"RSESS_session=…\"")
	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "account password")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall deadline, 0 for none")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the result as JSON")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagsRequiredTogether("username", "password")
	cmd.MarkFlagsMutuallyExclusive("cookie", "username")
	return cmd
}

func runAcquire(ctx context.Context, cfg *config.Config, opts *acquireOptions, source string, stdout, stderr io.Writer) error {
	log := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: stderr})

	client := newCLIClient(cfg.Cloud, log)
	store := seedr.NewMemoryStore(seedr.ParseCookieHeader(opts.cookie))
	if opts.username != "" {
		cred, err := client.Login(ctx, opts.username, opts.password)
		if err != nil {
			return err
		}
		store.Set(cred)
	}
	if _, ok := store.Credential(); !ok {
		return errors.New("no credential: pass --cookie or --username/--password")
	}

	orch := core.NewOrchestrator(client.WithStore(store), store, core.OptionsFromConfig(cfg.Acquisition), clock.New(), log.Named("acquire")).
		WithObserver(func(u core.Update) {
			if opts.jsonOut || u.State.Terminal() {
				return
			}
			if u.State == core.StatePolling && u.Attempt > 0 {
				fmt.Fprintf(stderr, "  attempt %d: %.0f%% %s\n", u.Attempt, u.Progress, u.Message)
				return
			}
			fmt.Fprintf(stderr, "%s: %s\n", u.State, u.Message)
		})

	res, err := orch.AcquireAndResolve(ctx, source, opts.title)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(stdout, "%s\n", res.URL)
	fmt.Fprintf(stderr, "file: %s (%s, %s)\n", res.FileName, res.Container, res.MediaType)
	return nil
}

// newCLIClient uses the remote proxy when configured, otherwise an in-process forwarder
func newCLIClient(cloud config.CloudConfig, log hclog.Logger) *seedr.Client {
	cfg := seedr.Config{
		ProxyURL:          cloud.ProxyURL,
		Timeout:           cloud.RequestTimeout,
		RequestsPerSecond: cloud.RequestsPerSecond,
		StreamURLTTL:      cloud.StreamURLTTL,
	}
	if cloud.ProxyURL != "" {
		return seedr.NewClient(cfg, nil, nil, log.Named("seedr"))
	}

	forwarder := proxy.NewForwarder(proxy.Config{
		BaseURL:    cloud.BaseURL,
		RestPrefix: cloud.RestPrefix,
		UserAgent:  cloud.UserAgent,
		Timeout:    cloud.RequestTimeout,
	}, log.Named("proxy"))
	return seedr.NewInProcessClient(cfg, forwarder, nil, log.Named("seedr"))
}
