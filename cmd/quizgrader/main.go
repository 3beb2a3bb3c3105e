package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/softrate/quizgrader/internal/authority"
	"github.com/softrate/quizgrader/internal/catalog"
	"github.com/softrate/quizgrader/internal/grading"
	"github.com/softrate/quizgrader/internal/handler"
	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/live"
	"github.com/softrate/quizgrader/internal/llm"
	"github.com/softrate/quizgrader/internal/llm/prompts"
	"github.com/softrate/quizgrader/internal/store"
)

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizgrader",
		Short: "Quiz submission, grading and proctoring server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizgrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "quizgrader.db", "SQLite database path")
	f.StringSliceP("quizzes", "q", nil, "Paths to quiz JSON files to import at startup (repeatable)")
	f.String("authority", "none", "Remote scoring authority (http, llm, none)")
	f.String("authority-url", "http://localhost:5000", "Scoring engine base URL for --authority=http")
	f.Duration("authority-timeout", grading.DefaultTimeout, "Remote scoring timeout")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL for --authority=llm")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.StringP("lang", "l", "en", "Default language (en, ru)")
	f.String("admin-token", "", "Bearer token for the /admin API (or set QUIZGRADER_ADMIN_TOKEN)")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed browser origins")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all submissions with provenance as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "quizgrader.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import quiz JSON files into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "quizgrader.db", "SQLite database path")
	f.Bool("force", false, "Replace quizzes whose file changed since the last import")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("QUIZGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizgrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizgrader")
	v.AddConfigPath("/etc/quizgrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := loadQuizzes(context.Background(), catalog.NewImporter(db), v.GetStringSlice("quizzes"), false); err != nil {
		return fmt.Errorf("load quizzes: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	auth, err := newAuthority(v)
	if err != nil {
		return err
	}

	grader := grading.NewGrader(db, db, auth,
		grading.WithTimeout(v.GetDuration("authority-timeout")),
		grading.WithReportSink(db),
	)
	registry := live.NewRegistry(grader, db)

	origins := v.GetStringSlice("cors-origins")
	h, err := handler.New(db, grader, registry, handler.Config{
		AdminToken:     v.GetString("admin-token"),
		AllowedOrigins: origins,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language", "X-Student-ID"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"authority", v.GetString("authority"),
		"authority_timeout", v.GetDuration("authority-timeout"),
		"lang", lang,
		"languages", appI18n.Languages(),
		"admin_api", v.GetString("admin-token") != "",
	)
	return http.ListenAndServe(addr, r)
}

// newAuthority builds the remote scoring authority selected by --authority.
// "none" grades everything locally.
func newAuthority(v *viper.Viper) (grading.Authority, error) {
	switch kind := strings.ToLower(strings.TrimSpace(v.GetString("authority"))); kind {
	case "", "none":
		slog.Info("remote scoring disabled, grading locally")
		return nil, nil
	case "http":
		url := v.GetString("authority-url")
		if url == "" {
			return nil, fmt.Errorf("--authority-url is required for the http authority")
		}
		return authority.New(url, v.GetDuration("authority-timeout")), nil
	case "llm":
		if err := prompts.Load(prompts.Templates); err != nil {
			return nil, fmt.Errorf("load prompt templates: %w", err)
		}
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		slog.Info("LLM scoring enabled", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"), "variant", variant)
		return llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), prompts.PromptVariant(variant)), nil
	default:
		return nil, fmt.Errorf("unknown authority %q (want http, llm or none)", kind)
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx := context.Background()
	export, err := db.ExportSubmissions(ctx)
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(os.Stderr, appI18n.Tp(ctx, "SubmissionsExported", export.Count))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return loadQuizzes(context.Background(), catalog.NewImporter(db), args, v.GetBool("force"))
}

func loadQuizzes(ctx context.Context, im *catalog.Importer, paths []string, force bool) error {
	start := time.Now()
	imported := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := im.ImportFile(ctx, path, data, force)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case catalog.Unchanged:
			slog.Info("quiz file already imported, skipping", "path", path)
		case catalog.Imported:
			imported++
		}
	}
	if len(paths) > 0 {
		slog.Info("quiz import finished", "files", len(paths), "imported", imported, "took", time.Since(start))
	}
	return nil
}
