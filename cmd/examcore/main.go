package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examcore/internal/content"
	"github.com/pavelanni/examcore/internal/finalize"
	"github.com/pavelanni/examcore/internal/handler"
	appI18n "github.com/pavelanni/examcore/internal/i18n"
	"github.com/pavelanni/examcore/internal/model"
	"github.com/pavelanni/examcore/internal/serial"
	"github.com/pavelanni/examcore/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examcore",
		Short: "Exam presentation and finalization backend",
	}

	serve := serveCmd()
	root.AddCommand(serve, finalizeCmd(), presentCmd(), synthesizeCmd(), exportCmd(), serialCmd(), seedCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examcore --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the database, content and logging flags every
// command shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db-dsn", "examcore.db", "Database path (sqlite) or connection URL (postgres)")
	f.String("content-dir", "content", "Directory of YAML exam templates")
	f.StringP("lang", "l", "en", "Default message language (en, es)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("cors-origin", nil, "Origins allowed to call the API from a browser (repeatable)")
	return cmd
}

func finalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize FILE...",
		Short: "Finalize JSON submission files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFinalize,
	}
	commonFlags(cmd)
	cmd.Flags().IntP("workers", "w", 4, "Submissions finalized concurrently")
	return cmd
}

func presentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "present",
		Short: "Realize an exam template for a student",
		RunE:  runPresent,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("student", "", "Student id (required)")
	f.String("ref", "", "Template ref (required)")
	f.Bool("proctored", false, "Exam is proctored")
	f.Bool("practice", false, "Practice attempt (negative serial)")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func synthesizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Build a mastery exam from a student's eligible standards",
		RunE:  runSynthesize,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("student", "", "Student id (required)")
	f.String("course", "", "Course (required)")
	f.Bool("proctored", false, "Exam is proctored")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a student's finalized results as JSON",
		RunE:  runExport,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.String("student", "", "Student id (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func serialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Issue serial numbers",
		RunE:  runSerial,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.Bool("practice", false, "Issue practice serials")
	f.IntP("count", "n", 1, "Number of serials")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed FILE...",
		Short: "Import students and mastery standards from YAML",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSeed,
	}
	commonFlags(cmd)
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

	v.SetEnvPrefix("EXAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examcore")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examcore")
	v.AddConfigPath("/etc/examcore")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db-dsn"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newService wires the finalize service, resuming serials after the
// largest one already issued.
func newService(ctx context.Context, v *viper.Viper, db *store.Store) (*finalize.Service, *content.Dir, error) {
	last, err := db.LastSerial(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read last serial: %w", err)
	}
	repo := content.NewDir(v.GetString("content-dir"), slog.Default())
	gen := serial.New(serial.WithFloor(last))
	return finalize.New(db, repo, gen, finalize.WithLogger(slog.Default())), repo, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, repo, err := newService(ctx, v, db)
	if err != nil {
		return err
	}
	n, err := repo.Preload(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h, err := handler.New(svc, db)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	r := handler.NewRouter(h, lang, v.GetStringSlice("cors-origin"))

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", db.Driver(),
		"content_dir", v.GetString("content-dir"),
		"templates", n,
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runFinalize(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()
	svc, _, err := newService(ctx, v, db)
	if err != nil {
		return err
	}
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))

	summaries := make([]*finalize.Summary, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, v.GetInt("workers")))
	for i, path := range args {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			var sub finalize.Submission
			if err := json.Unmarshal(data, &sub); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			sum, err := svc.Finalize(gctx, sub)
			if err != nil {
				return fmt.Errorf("finalize %s: %w", path, err)
			}
			sum.Message = handler.Message(gctx, sum)
			summaries[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, sum := range summaries {
		if err := enc.Encode(sum); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func runPresent(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()
	svc, _, err := newService(ctx, v, db)
	if err != nil {
		return err
	}
	exam, err := svc.Present(ctx, finalize.PresentRequest{
		StudentID: v.GetString("student"),
		Ref:       v.GetString("ref"),
		Proctored: v.GetBool("proctored"),
		Practice:  v.GetBool("practice"),
	})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), exam)
}

func runSynthesize(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()
	svc, _, err := newService(ctx, v, db)
	if err != nil {
		return err
	}
	exam, err := svc.PresentMastery(ctx, finalize.MasteryRequest{
		StudentID: v.GetString("student"),
		Course:    v.GetString("course"),
		Proctored: v.GetBool("proctored"),
	})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), exam)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportStudent(ctx, v.GetString("student"))
	if err != nil {
		return fmt.Errorf("export student: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func runSerial(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()
	last, err := db.LastSerial(ctx)
	if err != nil {
		return fmt.Errorf("read last serial: %w", err)
	}

	gen := serial.New(serial.WithFloor(last))
	practice := v.GetBool("practice")
	for range max(1, v.GetInt("count")) {
		fmt.Fprintln(cmd.OutOrStdout(), gen.Next(practice))
	}
	return nil
}

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Students     []model.Student     `yaml:"students"`
	MasteryExams []model.MasteryExam `yaml:"mastery_exams"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("seed file unchanged, skipping", "path", path)
			continue
		}

		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, st := range seed.Students {
			if st.ID == "" {
				return fmt.Errorf("%s: student without id", path)
			}
			if err := db.UpsertStudent(ctx, st); err != nil {
				return fmt.Errorf("import student from %s: %w", path, err)
			}
		}
		for _, m := range seed.MasteryExams {
			if m.ExamID == "" || m.TemplateRef == "" {
				return errors.New(path + ": mastery exam needs exam_id and template_ref")
			}
			if err := db.UpsertMasteryExam(ctx, m); err != nil {
				return fmt.Errorf("import mastery exam from %s: %w", path, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported seed file", "path", path,
			"students", len(seed.Students), "mastery_exams", len(seed.MasteryExams))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
