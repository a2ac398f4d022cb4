package hrsuitecli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"go.uber.org/zap"

	"github.com/phillip-england/hrsuite/internal/apiclient"
	"github.com/phillip-england/hrsuite/internal/importer"
	"github.com/phillip-england/hrsuite/internal/importreport"
	"github.com/phillip-england/hrsuite/internal/lookup"
)

// errImportRejected marks an import whose rows failed validation; the report
// has already been printed.
var errImportRejected = errors.New("import rejected")

func (c *cli) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	file := fs.String("file", "", "CSV, XLS or XLSX sheet to import")
	dryRun := fs.Bool("dry-run", false, "validate only; create nothing")
	expand := fs.Bool("expand", false, "list every error of each failing row")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return usageError()
		}
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: --file is required", ErrUsage)
	}

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open %s: %w", *file, err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		c.logger.Debug("uploading sheet",
			zap.String("file", *file),
			zap.String("size", humanize.Bytes(uint64(info.Size()))),
			zap.Bool("dry_run", *dryRun),
		)
	}

	api, err := c.signIn(ctx)
	if err != nil {
		return err
	}
	result, err := api.ImportUsers(ctx, filepath.Base(*file), f, *dryRun)
	if err != nil {
		return fmt.Errorf("import: %s", apiclient.UserMessage(err))
	}
	if err := importreport.Render(c.stdout, result, importreport.Options{Expanded: *expand}); err != nil {
		return err
	}
	if !result.Success {
		failed := result.FailedRows()
		return fmt.Errorf("%w: %d of %d %s %s errors", errImportRejected, failed, result.TotalRows,
			english.PluralWord(result.TotalRows, "row", ""), english.PluralWord(failed, "has", "have"))
	}
	return nil
}

func (c *cli) runTemplate(args []string) error {
	fs := flag.NewFlagSet("template", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	format := fs.String("format", importer.FormatXLSX, "template format: xlsx or csv")
	out := fs.String("out", "", "output path (defaults to the template file name)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return usageError()
		}
		return err
	}

	data, _, filename, err := importer.Template(strings.ToLower(*format))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	path := *out
	if path == "" {
		path = filename
	}
	if err := ensureParentDirs(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Fprintf(c.stdout, "wrote %s\n", path)
	return nil
}

func (c *cli) runLookup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: lookup needs one of employees, projects, tasks", ErrUsage)
	}
	kind := args[0]
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	project := fs.String("project", "", "limit task search to this project id")
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return usageError()
		}
		return err
	}

	api, err := c.signIn(ctx)
	if err != nil {
		return err
	}

	var cfg lookup.Config
	switch kind {
	case "employees":
		cfg = lookup.Config{Label: "Employee", Placeholder: "Search employees...", Search: api.SearchEmployees}
	case "projects":
		cfg = lookup.Config{Label: "Project", Placeholder: "Search projects...", Search: api.SearchProjects}
	case "tasks":
		cfg = lookup.Config{Label: "Task", Placeholder: "Search tasks...", Search: api.SearchTasks(*project)}
	default:
		return fmt.Errorf("%w: unknown lookup %q", ErrUsage, kind)
	}
	// The terminal belongs to the picker, so search failures are kept off
	// stderr unless debugging.
	if c.logger.Core().Enabled(zap.DebugLevel) {
		cfg.Logger = c.logger.Named("lookup")
	}

	opt, ok, err := lookup.Run(ctx, cfg)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(c.stdout, opt.ID)
	}
	return nil
}

// signIn builds an API client from HRSUITE_TOKEN, or logs in with
// HRSUITE_EMAIL and HRSUITE_PASSWORD.
func (c *cli) signIn(ctx context.Context) (*apiclient.Client, error) {
	api := apiclient.New(envOrDefault("API_BASE_URL", "http://localhost:8080"), os.Getenv("HRSUITE_TOKEN"))
	if api.Token != "" {
		return api, nil
	}
	email := os.Getenv("HRSUITE_EMAIL")
	password := os.Getenv("HRSUITE_PASSWORD")
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: set HRSUITE_TOKEN, or HRSUITE_EMAIL and HRSUITE_PASSWORD", ErrUsage)
	}
	sess, err := api.Login(ctx, email, password)
	if err != nil {
		if apiclient.IsStatus(err, http.StatusUnauthorized) {
			return nil, errors.New("sign in: invalid email or password")
		}
		return nil, fmt.Errorf("sign in: %s", apiclient.UserMessage(err))
	}
	c.logger.Debug("signed in", zap.String("tenant", sess.Tenant.Name), zap.String("user", sess.User.Email))
	return api.WithToken(sess.Token), nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
