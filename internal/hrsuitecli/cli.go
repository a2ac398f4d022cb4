// Package hrsuitecli implements the hrsuite command line.
package hrsuitecli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/hrsuite/internal/apiapp"
	"github.com/phillip-england/hrsuite/internal/clientapp"
	"github.com/phillip-england/hrsuite/internal/envutil"
	"github.com/phillip-england/hrsuite/internal/security"
)

var ErrUsage = errors.New("usage")

// cli carries the process streams so commands can be tested.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

func Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &cli{stdout: os.Stdout, stderr: os.Stderr}
	return c.execute(ctx, args)
}

func (c *cli) execute(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usageError()
	}
	if args[0] == "setup" {
		return c.runSetup(args[1:])
	}

	if err := loadConfig(); err != nil {
		return err
	}
	if c.logger == nil {
		logger, err := newLogger(os.Getenv("LOG_LEVEL"))
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		c.logger = logger
	}

	switch args[0] {
	case "run":
		return c.runCommand(ctx, args[1:])
	case "import":
		return c.runImport(ctx, args[1:])
	case "template":
		return c.runTemplate(args[1:])
	case "lookup":
		return c.runLookup(ctx, args[1:])
	case "help", "-h", "--help":
		PrintUsage(c.stdout)
		return nil
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: hrsuite <setup|run|import|template|lookup> [...]", ErrUsage)
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: hrsuite setup --tenant <name> --admin-email <email> --admin-password <password> [--force]")
	fmt.Fprintln(w, "       hrsuite run api|client|all")
	fmt.Fprintln(w, "       hrsuite import --file users.xlsx [--dry-run] [--expand]")
	fmt.Fprintln(w, "       hrsuite template [--format xlsx|csv] [--out path]")
	fmt.Fprintln(w, "       hrsuite lookup employees|projects|tasks [--project id]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "import and lookup sign in with HRSUITE_TOKEN, or HRSUITE_EMAIL and HRSUITE_PASSWORD.")
}

// loadConfig fills the environment from .env and then from the YAML file
// named by HRSUITE_CONFIG. Variables already set are never replaced.
func loadConfig() error {
	if err := envutil.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := envutil.LoadYAML(os.Getenv("HRSUITE_CONFIG")); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if strings.TrimSpace(level) != "" {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.Level = lvl
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func (c *cli) runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	tenant := fs.String("tenant", "", "name of the first tenant")
	adminEmail := fs.String("admin-email", "", "email of the first admin")
	adminPass := fs.String("admin-password", "", "initial admin password (min 12 chars)")
	envPath := fs.String("env-file", ".env", "path to .env file")
	dbPath := fs.String("db", "data.db", "SQLite database path")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return usageError()
		}
		return err
	}

	switch {
	case strings.TrimSpace(*tenant) == "":
		return fmt.Errorf("%w: --tenant is required", ErrUsage)
	case strings.TrimSpace(*adminEmail) == "":
		return fmt.Errorf("%w: --admin-email is required", ErrUsage)
	case *adminPass == "":
		return fmt.Errorf("%w: --admin-password is required", ErrUsage)
	}
	if _, err := security.HashPassword(*adminPass); err != nil {
		return fmt.Errorf("invalid admin password: %w", err)
	}

	values := map[string]string{
		"SEED_TENANT":    strings.TrimSpace(*tenant),
		"ADMIN_EMAIL":    strings.ToLower(strings.TrimSpace(*adminEmail)),
		"ADMIN_PASSWORD": *adminPass,
		"DB_PATH":        *dbPath,
		"API_ADDR":       ":8080",
		"CLIENT_ADDR":    ":3000",
		"API_BASE_URL":   "http://localhost:8080",
		"SESSION_TTL":    "12h",
		"TRUST_PROXY":    "true",
		"LOG_LEVEL":      "info",
	}

	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %s\n", *envPath)
	return nil
}

func (c *cli) runCommand(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing run target: api | client | all", ErrUsage)
	}

	switch args[0] {
	case "api":
		return ignoreCanceled(c.runAPI(ctx))
	case "client":
		return ignoreCanceled(c.runClient(ctx))
	case "all":
		return c.runAll(ctx)
	default:
		return fmt.Errorf("%w: unknown run target %q", ErrUsage, args[0])
	}
}

func (c *cli) runAPI(ctx context.Context) error {
	cfg := apiapp.DefaultConfigFromEnv()
	cfg.Logger = c.logger.Named("api")
	if err := ensureParentDirs(cfg.DBPath); err != nil {
		return err
	}
	return apiapp.Run(ctx, cfg)
}

func (c *cli) runClient(ctx context.Context) error {
	cfg := clientapp.DefaultConfigFromEnv()
	cfg.Logger = c.logger.Named("client")
	return clientapp.Run(ctx, cfg)
}

// runAll serves both apps until either fails or ctx ends.
func (c *cli) runAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(c.runAPI(gctx)) })
	g.Go(func() error {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-gctx.Done():
			return nil
		}
		return ignoreCanceled(c.runClient(gctx))
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
