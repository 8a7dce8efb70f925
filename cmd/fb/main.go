package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowboard/internal/app"
	"flowboard/internal/config"
	"flowboard/internal/domain"
	"flowboard/internal/logging"
	"flowboard/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "fb",
	Short: "FlowBoard server and admin CLI",
	Long: `FlowBoard is a Kanban and Scrum board backend.

'fb serve' runs the HTTP API, the live notification socket and the background jobs.
The other commands work directly against the configured database, acting as the user
named by --as (or FLOWBOARD_AS). Every config key can be overridden from the
environment, e.g. FLOWBOARD_AUTH_JWT_SECRET or FLOWBOARD_DATABASE_DSN.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLOWBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to flowboard.yml")
	flags.StringP("workspace", "w", "", "workspace directory for the SQLite database")
	flags.Bool("json", false, "output JSON")
	flags.String("as", "", "email of the acting user")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("database.workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("as", flags.Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(configCmd())
}

// loadConfig reads --config when given, then applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return nil, err
		}
	}
	overrideString(&cfg.Server.Addr, "server.addr")
	overrideString(&cfg.Server.BasePath, "server.base_path")
	overrideString(&cfg.Database.Driver, "database.driver")
	overrideString(&cfg.Database.DSN, "database.dsn")
	overrideString(&cfg.Database.Workspace, "database.workspace")
	overrideString(&cfg.Auth.JWTSecret, "auth.jwt_secret")
	overrideString(&cfg.Uploads.Backend, "uploads.backend")
	overrideString(&cfg.Uploads.Dir, "uploads.dir")
	overrideString(&cfg.Uploads.Minio.Endpoint, "uploads.minio.endpoint")
	overrideString(&cfg.Uploads.Minio.Bucket, "uploads.minio.bucket")
	overrideString(&cfg.Uploads.Minio.AccessKey, "uploads.minio.access_key")
	overrideString(&cfg.Uploads.Minio.SecretKey, "uploads.minio.secret_key")
	overrideString(&cfg.Log.Level, "log.level")
	overrideString(&cfg.Log.Format, "log.format")
	if viper.IsSet("auth.expose_reset_token") {
		cfg.Auth.ExposeResetToken = viper.GetBool("auth.expose_reset_token")
	}
	if viper.IsSet("uploads.max_bytes") {
		cfg.Uploads.MaxBytes = viper.GetInt64("uploads.max_bytes")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := viper.GetString(key); v != "" {
		*dst = v
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(cfg.Log)
}

// withApp opens the configured database with migrations applied and runs fn.
func withApp(ctx context.Context, opts app.Options, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.Migrate = true
	a, err := app.Open(ctx, cfg, newLogger(cfg), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actor resolves the --as user.
func actor(ctx context.Context, a *app.App) (domain.User, error) {
	email := strings.TrimSpace(viper.GetString("as"))
	if email == "" {
		return domain.User{}, errors.New("--as <email> is required for this command")
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, a.DB, strings.ToLower(email))
	if errors.Is(err, repo.ErrNotFound) {
		return u, fmt.Errorf("no user with email %s", email)
	}
	return u, err
}

// resolveProject accepts a project id or key.
func resolveProject(ctx context.Context, a *app.App, ref string) (domain.Project, error) {
	if ref == "" {
		return domain.Project{}, errors.New("--project is required")
	}
	p, err := a.Engine.Repo.GetProjectByKey(ctx, a.DB, strings.ToUpper(ref))
	if errors.Is(err, repo.ErrNotFound) {
		p, err = a.Engine.Repo.GetProject(ctx, a.DB, ref)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return p, fmt.Errorf("project %s not found", ref)
	}
	return p, err
}

// printJSONOrTable prints v as JSON with --json, otherwise a table of rows.
func printJSONOrTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
