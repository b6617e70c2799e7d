package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"insta-mirror/dispatch"
	"insta-mirror/fetch"
	"insta-mirror/instagram"
	"insta-mirror/overlay"
	"insta-mirror/pkg/mirror"
	"insta-mirror/poll"
	"insta-mirror/report"
	mirrorstore "insta-mirror/storage"
)

var errMissingCredentials = errors.New("missing credentials: pass <username> <password> or set IG_USERNAME and IG_PASSWORD")

// options are the settings shared by run and serve.
type options struct {
	username  string
	password  string
	dataPath  string
	bucket    string
	overlay   string
	scratch   string
	reportTo  string
	logFormat string
	limit     int
	dry       bool
}

func (o *options) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&o.dry, "no-post", false, "Do everything except publishing")
	f.BoolVar(&o.dry, "dry", false, "Alias for --no-post")
	f.StringVar(&o.dataPath, "data", envOr("DATA_FILE", mirrorstore.DefaultKey), "Source list file (object name when --bucket is set)")
	f.StringVar(&o.bucket, "bucket", os.Getenv("STORAGE_BUCKET"), "Cloud Storage bucket holding the source list")
	f.StringVar(&o.overlay, "overlay", envOr("OVERLAY_FILE", "overlay.png"), "Image composited onto every photo")
	f.StringVar(&o.scratch, "scratch", os.Getenv("SCRATCH_DIR"), "Directory for downloaded media (default OS temp dir)")
	f.IntVar(&o.limit, "limit", poll.DefaultLimit, "Recent posts checked per source")
	f.StringVar(&o.reportTo, "report-to", os.Getenv("REPORT_TO"), "Email address receiving a summary of each run")
	f.StringVar(&o.logFormat, "log-format", envOr("LOG_FORMAT", "text"), "Log format: text or json")
}

// credentials takes the username and password from args, falling back to
// IG_USERNAME and IG_PASSWORD.
func (o *options) credentials(args []string) error {
	o.username = os.Getenv("IG_USERNAME")
	o.password = os.Getenv("IG_PASSWORD")
	if len(args) > 0 {
		o.username = args[0]
	}
	if len(args) > 1 {
		o.password = args[1]
	}
	if o.username == "" || o.password == "" {
		return errMissingCredentials
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(w io.Writer, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}
	switch format {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

// app is a fully wired pipeline.
type app struct {
	runner   *poll.Runner
	reporter *report.Sender
	close    func()
}

// build wires the pipeline and logs in. Any error here is fatal for the run.
func build(ctx context.Context, o *options, logger *slog.Logger) (*app, error) {
	a := &app{close: func() {}}

	st, err := newStore(ctx, o, logger)
	if err != nil {
		return nil, err
	}
	if st.closer != nil {
		a.close = st.closer
	}

	compositor, err := overlay.New(o.overlay, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	ig, err := instagram.New(&instagram.Config{Logger: logger})
	if err != nil {
		a.close()
		return nil, mirror.NewError(mirror.ConfigError, "", "create instagram client", err)
	}
	if err := ig.Login(ctx, o.username, o.password); err != nil {
		a.close()
		return nil, err
	}

	d := dispatch.New(&dispatch.Config{
		Fetcher:    fetch.New(&http.Client{}, logger),
		Compositor: compositor,
		Publisher:  ig,
		Logger:     logger,
		ScratchDir: o.scratch,
		Dry:        o.dry,
	})
	a.runner = poll.NewRunner(st.Store, poll.New(ig, d, o.limit, logger), o.dry, logger)

	if o.reportTo != "" {
		provider, err := newReportProvider(ctx, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.reporter = report.New(provider, logger, o.reportTo)
	}
	return a, nil
}

type store struct {
	*mirrorstore.Store
	closer func()
}

func newStore(ctx context.Context, o *options, logger *slog.Logger) (*store, error) {
	if o.bucket == "" {
		logger.Info("Using local source list", "path", o.dataPath)
		return &store{Store: mirrorstore.New(nil, "", "", o.dataPath, logger)}, nil
	}

	var opts []option.ClientOption
	if creds := os.Getenv("GOOGLE_CREDENTIALS_JSON"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, mirror.NewError(mirror.ConfigError, "", "create storage client", err)
	}
	logger.Info("Using Cloud Storage source list", "bucket", o.bucket, "object", o.dataPath)
	return &store{
		Store:  mirrorstore.New(client, o.bucket, o.dataPath, "", logger),
		closer: func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		},
	}, nil
}

// newReportProvider picks Gmail when Google credentials are present, Brevo
// when an API key is, and logs reports otherwise.
func newReportProvider(ctx context.Context, logger *slog.Logger) (report.Provider, error) {
	if creds := os.Getenv("GOOGLE_CREDENTIALS_JSON"); creds != "" {
		p, err := report.NewGmailProvider(ctx, creds, logger)
		if err != nil {
			return nil, fmt.Errorf("init gmail: %w", err)
		}
		logger.Info("Reports via Gmail API")
		return p, nil
	}
	if key := os.Getenv("BREVO_API_KEY"); key != "" {
		from := envOr("REPORT_FROM", "insta-mirror@localhost")
		logger.Info("Reports via Brevo", "from", from)
		return report.NewBrevoProvider(key, from, "insta-mirror", logger), nil
	}
	logger.Info("Mock email mode enabled (no GOOGLE_CREDENTIALS_JSON or BREVO_API_KEY)")
	return report.NewMockProvider(logger), nil
}
