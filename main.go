// gametl — batch translator for visual-novel and RPG engine script files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/minios-linux/gametl/acefile"
	"github.com/minios-linux/gametl/config"
	"github.com/minios-linux/gametl/i18n"
	"github.com/minios-linux/gametl/ksfile"
	"github.com/minios-linux/gametl/langmeta"
	"github.com/minios-linux/gametl/lockfile"
	"github.com/minios-linux/gametl/memory"
	"github.com/minios-linux/gametl/mvfile"
	"github.com/minios-linux/gametl/pipeline"
	"github.com/minios-linux/gametl/report"
	"github.com/minios-linux/gametl/script"
	"github.com/minios-linux/gametl/settings"
	"github.com/minios-linux/gametl/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	infoTag    = color.New(color.FgBlue).Sprint("[INFO]")
	successTag = color.New(color.FgGreen).Sprint("[OK]")
	warningTag = color.New(color.FgYellow, color.Bold).Sprint("[WARN]")
	errorTag   = color.New(color.FgRed).Sprint("[ERROR]")
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, infoTag+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, successTag+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, warningTag+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, errorTag+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	rootDir  string
	logLevel string
	verbose  bool
)

// newLogger builds the diagnostic logger. Diagnostics stay quiet unless
// --verbose or --log-level asks for them.
func newLogger(level string, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using warn")
		lvl = logrus.WarnLevel
	}
	if verbose && lvl < logrus.DebugLevel {
		lvl = logrus.DebugLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gametl",
		Short: i18n.T("Batch translator for visual-novel and RPG engine files"),
		Long: `gametl — batch translator for visual-novel and RPG engine files.

Reads game script files from the input directory, translates dialogue,
choices, names and database strings with an AI provider, and writes the
translated files to the output directory. Markup and control codes are
preserved.

Engines:
  mv    RPG Maker MV/MZ (data/*.json)
  ace   RPG Maker VX Ace (YAML dumps)
  ks    KiriKiri/TyranoScript (*.ks)

Commands:
  init       Write a .gametl.yaml with defaults
  status     Show project configuration and progress
  translate  Translate the input files
  estimate   Count tokens and cost without calling the provider
  auth       Manage provider API keys

AI Providers:
  openai         OpenAI — API key
  google         Google AI (Gemini) — API key
  anthropic      Anthropic — API key
  groq           Groq — API key
  ollama         Ollama local server
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Diagnostic log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable diagnostic logging")

	root.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newCleanCmd(),
		newTranslateCmd(),
		newEstimateCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gametl version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func newInitCmd() *cobra.Command {
	var (
		engine string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a .gametl.yaml with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(rootDir, config.FileName)
			if fileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Default()
			cfg.Engine = engine
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(rootDir); err != nil {
				return err
			}
			logSuccess(i18n.T("Created %s"), path)
			logInfo(i18n.T("Put the untranslated files in %s/"), cfg.InputDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&engine, "engine", config.EngineMV, "Game engine: mv, ace, ks")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show project configuration and progress",
		Long: `Show the resolved configuration, the input files the engine adapter
accepts, and how many of them the lock file records as translated.
Does not modify any files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	eng, err := engineFor(cfg)
	if err != nil {
		return err
	}
	lang := langmeta.Name(cfg.Language)

	heading := color.New(color.FgBlue, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "\n%s\n", heading(i18n.T("Project")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "engine", cfg.Engine)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "input", cfg.InputPath(rootDir))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "output", cfg.OutputPath(rootDir))
	fmt.Fprintf(os.Stderr, "  %-12s %s (%s)\n", "provider", cfg.Provider, cfg.Model)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "language", lang)
	fmt.Fprintf(os.Stderr, "  %-12s %d (history %d, mismatch retries %d)\n", "batch size",
		cfg.EffectiveBatchSize(), cfg.MaxHistory, cfg.MismatchRetries)
	fmt.Fprintf(os.Stderr, "  %-12s %d files x %d pages\n", "threads", cfg.FileThreads, cfg.PageThreads)

	files, err := collectFiles(cfg.InputPath(rootDir), eng.supported)
	if err != nil {
		return err
	}
	lock, err := lockfile.Load(cfg.OutputPath(rootDir))
	if err != nil {
		return err
	}
	done := 0
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(cfg.InputPath(rootDir), rel))
		if err != nil {
			continue
		}
		if !lock.IsChanged(lang, lockfile.FileKey(rel), lockfile.Content(data, lockSettings(cfg, lang)...)) {
			done++
		}
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", heading(i18n.T("Files")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  %s\n", i18n.N("%d input file", "%d input files", len(files)))
	fmt.Fprintf(os.Stderr, "  %d/%d %s\n", done, len(files), i18n.T("up to date"))
	fmt.Fprintf(os.Stderr, "  lock: %s\n", lock.Summary())

	if cfg.Memory != "" {
		store, err := memory.Open(resolvePath(cfg.Memory))
		if err != nil {
			return err
		}
		defer store.Close()
		entries, hits, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "  memory: %d entries, %d hits\n", entries, hits)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

// ---------------------------------------------------------------------------
// clean
// ---------------------------------------------------------------------------

type cleanArgs struct {
	reset     bool
	memoryAge time.Duration
}

func newCleanCmd() *cobra.Command {
	var a cleanArgs
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Drop stale lock entries and old memory entries",
		Long: `Remove lock file entries of input files that no longer exist for the
project language. With --reset every entry of the language is dropped, so
the next run translates all files again. With --memory-age, translation
memory entries older than the given age are removed.`,
		Example: `  gametl clean
  gametl clean --reset
  gametl clean --memory-age 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd.Context(), a)
		},
	}
	cmd.Flags().BoolVar(&a.reset, "reset", false, "Drop all lock entries of the project language")
	cmd.Flags().DurationVar(&a.memoryAge, "memory-age", 0, "Remove memory entries older than this age")
	return cmd
}

func runClean(ctx context.Context, a cleanArgs) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	eng, err := engineFor(cfg)
	if err != nil {
		return err
	}
	lang := langmeta.Name(cfg.Language)

	lock, err := lockfile.Load(cfg.OutputPath(rootDir))
	if err != nil {
		return err
	}
	if a.reset {
		lock.RemoveLanguage(lang)
	} else {
		files, err := collectFiles(cfg.InputPath(rootDir), eng.supported)
		if err != nil {
			return err
		}
		pruneLock(lock, lang, files)
	}
	if err := lock.Save(); err != nil {
		return err
	}
	logSuccess(i18n.T("Lock file cleaned: %s"), lock.Path())

	if a.memoryAge > 0 && cfg.Memory != "" {
		store, err := memory.Open(resolvePath(cfg.Memory))
		if err != nil {
			return err
		}
		defer store.Close()
		n, err := store.Prune(ctx, a.memoryAge)
		if err != nil {
			return err
		}
		logSuccess(i18n.N("%d memory entry removed", "%d memory entries removed", int(n)), n)
	}
	return nil
}

// pruneLock keeps only the lock entries of files, the complete set of input
// files, for lang.
func pruneLock(lock *lockfile.LockFile, lang string, files []string) {
	keys := make([]string, len(files))
	for i, rel := range files {
		keys[i] = lockfile.FileKey(rel)
	}
	lock.Clean(lang, keys)
}

// ---------------------------------------------------------------------------
// translate / estimate
// ---------------------------------------------------------------------------

// runArgs holds the flags shared by translate and estimate. Zero values
// leave the project file setting in place.
type runArgs struct {
	engine          string
	input           string
	output          string
	provider        string
	model           string
	apiKey          string
	baseURL         string
	proxy           string
	language        string
	prompt          string
	memoryPath      string
	summary         string
	batchSize       int
	width           int
	fileThreads     int
	pageThreads     int
	mismatchRetries int
	maxRetries      int
	timeout         time.Duration
	force           bool
	noProgress      bool
	noMem           bool
	listNames       bool
	files           []string
}

func addRunFlags(cmd *cobra.Command, a *runArgs) {
	f := cmd.Flags()
	f.StringVar(&a.engine, "engine", "", "Game engine: mv, ace, ks")
	f.StringVar(&a.input, "input", "", "Input directory (default files)")
	f.StringVar(&a.output, "output", "", "Output directory (default translated)")
	f.StringVar(&a.provider, "provider", "", "AI provider: openai, google, anthropic, groq, ollama, custom-openai")
	f.StringVar(&a.model, "model", "", "Model name")
	f.StringVar(&a.apiKey, "api-key", "", "API key (or GAMETL_API_KEY env var)")
	f.StringVar(&a.baseURL, "base-url", "", "Custom API base URL")
	f.StringVar(&a.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	f.StringVarP(&a.language, "lang", "l", "", "Target language (code or English name)")
	f.StringVar(&a.prompt, "prompt", "", "System prompt file")
	f.StringVar(&a.memoryPath, "memory", "", "Translation memory database")
	f.BoolVar(&a.noMem, "no-memory", false, "Disable the translation memory")
	f.StringVar(&a.summary, "summary", "", "Write a YAML run summary to this file")
	f.IntVar(&a.batchSize, "batch-size", 0, "Dialogue lines per request (0 = by model)")
	f.IntVar(&a.width, "width", 0, "Dialogue wrap width")
	f.IntVar(&a.fileThreads, "file-threads", 0, "Files translated concurrently")
	f.IntVar(&a.pageThreads, "page-threads", 0, "Pages translated concurrently per file")
	f.IntVar(&a.mismatchRetries, "mismatch-retries", 0, "Resends of a mismatched batch (negative disables)")
	f.IntVar(&a.maxRetries, "max-retries", 0, "Retries of a failed request")
	f.DurationVar(&a.timeout, "timeout", 0, "Request timeout")
	f.BoolVar(&a.noProgress, "no-progress", false, "Disable the progress bar")
	f.BoolVar(&a.listNames, "names", false, "List the speaker names found")
	f.StringSliceVar(&a.files, "file", nil, "Only translate these files (relative to the input directory)")

	_ = cmd.RegisterFlagCompletionFunc("provider", providerCompletion)
	_ = cmd.RegisterFlagCompletionFunc("engine", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"mv\tRPG Maker MV/MZ",
			"ace\tRPG Maker VX Ace",
			"ks\tKiriKiri/TyranoScript",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}

// apply overrides cfg with every flag that was set.
func (a *runArgs) apply(cfg *config.Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setString(&cfg.Engine, a.engine)
	setString(&cfg.InputDir, a.input)
	setString(&cfg.OutputDir, a.output)
	setString(&cfg.Provider, a.provider)
	setString(&cfg.Model, a.model)
	setString(&cfg.APIKey, a.apiKey)
	setString(&cfg.BaseURL, a.baseURL)
	setString(&cfg.Proxy, a.proxy)
	setString(&cfg.Language, a.language)
	setString(&cfg.PromptFile, a.prompt)
	setString(&cfg.Memory, a.memoryPath)
	setInt(&cfg.BatchSize, a.batchSize)
	setInt(&cfg.Width, a.width)
	setInt(&cfg.FileThreads, a.fileThreads)
	setInt(&cfg.PageThreads, a.pageThreads)
	setInt(&cfg.MismatchRetries, a.mismatchRetries)
	setInt(&cfg.MaxRetries, a.maxRetries)
	if a.timeout > 0 {
		cfg.Timeout = a.timeout
	}
	if a.noMem {
		cfg.Memory = ""
	}
}

func newTranslateCmd() *cobra.Command {
	var a runArgs
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate the input files",
		Long: `Translate every supported file in the input directory and write the
result to the output directory. Files whose content and settings are
unchanged since the last complete run are skipped (see --force).

Examples:
  # Translate an MV project to English with OpenAI
  gametl translate --engine mv --provider openai --model gpt-4o-mini

  # Translate Tyrano scripts with four files in parallel
  gametl translate --engine ks --file-threads 4

  # Retranslate everything and keep a run summary
  gametl translate --force --summary run.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd.Context(), a, false)
		},
	}
	addRunFlags(cmd, &a)
	cmd.Flags().BoolVar(&a.force, "force", false, "Retranslate files the lock file reports as unchanged")
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var a runArgs
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Count tokens and cost without calling the provider",
		Long: `Walk the input files exactly as translate would, counting the tokens
each request would use. Nothing is sent and nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd.Context(), a, true)
		},
	}
	addRunFlags(cmd, &a)
	return cmd
}

func runTranslate(ctx context.Context, a runArgs, estimate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}
	a.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(logLevel, verbose)
	lang := langmeta.Name(cfg.Language)

	eng, err := engineFor(cfg)
	if err != nil {
		return err
	}
	walker, err := script.New(cfg.Table(eng.table), script.Options{
		Width:          cfg.Width,
		BracketNames:   cfg.BracketNames,
		BreakTag:       cfg.BreakTag(),
		KeepLineBreaks: cfg.KeepLineBreaks,
	})
	if err != nil {
		return fmt.Errorf("code table: %w", err)
	}

	prompt, err := resolvePrompt(cfg)
	if err != nil {
		return err
	}

	prov := resolveProvider(cfg.Provider, cfg.BaseURL,
		settings.ResolveAPIKey(cfg.Provider, cfg.APIKey), cfg.Model, cfg.Proxy, cfg.Timeout)
	if !estimate {
		if err := validateProvider(prov); err != nil {
			return err
		}
	}

	var mem translate.Memory
	if cfg.Memory != "" && !estimate {
		store, err := memory.Open(resolvePath(cfg.Memory))
		if err != nil {
			return err
		}
		defer store.Close()
		mem = store
	}

	gw, err := translate.New(translate.Options{
		Provider:     prov,
		LanguageName: lang,
		SystemPrompt: prompt,
		Glossary:     cfg.Glossary,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		Estimate:     estimate,
		Memory:       mem,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	inputDir := cfg.InputPath(rootDir)
	outputDir := cfg.OutputPath(rootDir)
	files := a.files
	fullRun := len(files) == 0
	if fullRun {
		files, err = collectFiles(inputDir, eng.supported)
		if err != nil {
			return err
		}
	}
	if len(files) == 0 {
		logWarning(i18n.T("No %s files found in %s"), cfg.Engine, inputDir)
		return nil
	}

	var lock *lockfile.LockFile
	if !estimate {
		lock, err = lockfile.Load(outputDir)
		if err != nil {
			return err
		}
		if fullRun {
			pruneLock(lock, lang, files)
		}
	}

	if estimate {
		logInfo(i18n.T("Estimating %d files (%s, %s)"), len(files), cfg.Model, lang)
	} else {
		logInfo(i18n.T("Translating %d files to %s with %s (%s)"), len(files), lang, prov.Name, prov.Model)
	}

	pricing := cfg.EffectivePricing()
	acc := report.NewAccumulator()
	out := newResultPrinter(len(files), a.noProgress, pricing)

	runner := pipeline.New(gw, walker, acc, pipeline.Options{
		FileThreads:     cfg.FileThreads,
		PageThreads:     cfg.PageThreads,
		BatchSize:       cfg.EffectiveBatchSize(),
		MismatchRetries: cfg.MismatchRetries,
		MaxHistory:      cfg.MaxHistory,
		Names:           cfg.Names,
		Estimate:        estimate,
		InputDir:        inputDir,
		OutputDir:       outputDir,
		Parse:           eng.parse,
		Lock:            lock,
		Language:        lang,
		LockSettings:    lockSettings(cfg, lang),
		Force:           a.force,
		Logger:          logger,
		OnProgress: func(file string, done, total int) {
			logger.WithFields(logrus.Fields{"file": file, "done": done, "total": total}).Debug("progress")
		},
		OnFile: out.file,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	runErr := runner.Run(ctx, files)
	out.finish()

	fmt.Fprintln(os.Stderr, report.TotalLine(acc.Tokens(), pricing, time.Since(started)))
	printMismatches(acc.Mismatches())
	if a.listNames {
		printNames(acc.Names())
	}
	if gaps := acc.Gaps(); gaps > 0 {
		logWarning(i18n.N("%d translation lost a placeholder", "%d translations lost a placeholder", gaps), gaps)
	}

	if a.summary != "" {
		s := acc.Summary(report.NewRunID(), started, cfg.Model, lang, estimate, pricing)
		if err := s.Write(a.summary); err != nil {
			logError("%v", err)
		} else {
			logInfo(i18n.T("Summary written to %s"), a.summary)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logWarning(i18n.T("Interrupted, finished files were saved"))
			return nil
		}
		return runErr
	}
	if failed := acc.Failed(); failed > 0 {
		return fmt.Errorf(i18n.N("%d file failed", "%d files failed", failed), failed)
	}
	if !estimate {
		logSuccess(i18n.T("Translation complete!"))
	}
	return nil
}

// resultPrinter prints one line per finished file above an overall
// progress bar. File workers call it concurrently.
type resultPrinter struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	pricing report.Pricing
}

func newResultPrinter(total int, quiet bool, pricing report.Pricing) *resultPrinter {
	p := &resultPrinter{pricing: pricing}
	if !quiet {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *resultPrinter) file(r report.FileResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Clear()
	}
	fmt.Fprintln(os.Stderr, report.FileLine(r, p.pricing))
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *resultPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func printMismatches(ms []report.Mismatch) {
	if len(ms) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, red(fmt.Sprintf(i18n.N("Mismatch error in %d page:", "Mismatch errors in %d pages:", len(ms)), len(ms))))
	for _, m := range ms {
		fmt.Fprintf(os.Stderr, "  %s  %s  %s\n", m.File, m.Page, m.Reason)
	}
}

func printNames(names []report.Name) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, blue(i18n.T("Names:")))
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", n.Source, n.Translation)
	}
}

// ---------------------------------------------------------------------------
// Engine selection
// ---------------------------------------------------------------------------

type engine struct {
	parse     pipeline.Parser
	table     script.Table
	supported func(name string) bool
}

func engineFor(cfg *config.Config) (engine, error) {
	switch cfg.Engine {
	case config.EngineMV:
		return engine{
			parse:     mvfile.Codec{Width: cfg.ListWidth}.Parse,
			table:     script.MVTable(),
			supported: mvfile.Supported,
		}, nil
	case config.EngineACE:
		return engine{
			parse:     acefile.Codec{Width: cfg.ListWidth}.Parse,
			table:     script.ACETable(),
			supported: acefile.Supported,
		}, nil
	case config.EngineKS:
		return engine{
			parse:     ksfile.Codec{Encoding: cfg.Encoding}.Parse,
			table:     ksfile.Table(),
			supported: ksfile.Supported,
		}, nil
	}
	return engine{}, fmt.Errorf("unknown engine %q", cfg.Engine)
}

// collectFiles lists the files under dir accepted by supported, relative to
// dir and sorted.
func collectFiles(dir string, supported func(string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supported(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// lockSettings are the settings whose change invalidates a translated file.
func lockSettings(cfg *config.Config, lang string) []string {
	return []string{
		cfg.Engine, cfg.Provider, cfg.Model, lang,
		strconv.Itoa(cfg.Width), strconv.Itoa(cfg.ListWidth), cfg.BreakTag(),
	}
}

// resolvePrompt returns the project prompt file, then the user's
// prompt.txt, then "" for the built-in prompt.
func resolvePrompt(cfg *config.Config) (string, error) {
	if p, err := cfg.PromptText(rootDir); err != nil || p != "" {
		return p, err
	}
	return settings.Prompt()
}

func resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootDir, p)
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func resolveProvider(name, baseURL, apiKey, model, proxy string, timeout time.Duration) translate.Provider {
	defaults := translate.DefaultProviders()

	var prov translate.Provider
	if p, ok := defaults[strings.ToLower(name)]; ok {
		prov = p
	} else {
		prov = translate.Provider{
			ID:      translate.ProviderCustomOpenAI,
			Name:    name,
			BaseURL: name,
			Timeout: 60 * time.Second,
		}
	}

	if baseURL != "" {
		prov.BaseURL = baseURL
	} else if prov.ID == translate.ProviderCustomOpenAI || prov.ID == translate.ProviderOllama {
		if storedURL := settings.GetBaseURL(prov.ID); storedURL != "" {
			prov.BaseURL = storedURL
		}
	}
	if apiKey != "" {
		prov.APIKey = apiKey
	}
	if model != "" {
		prov.Model = model
	}
	if proxy != "" {
		prov.Proxy = proxy
	}
	if timeout > 0 {
		prov.Timeout = timeout
	}
	return prov
}

func validateProvider(prov translate.Provider) error {
	if prov.Model == "" {
		return fmt.Errorf("--model is required for provider '%s'", prov.ID)
	}
	if prov.NeedsAPIKey() && prov.APIKey == "" {
		env := settings.EnvVarForProvider(prov.ID)
		return fmt.Errorf("provider '%s' requires an API key\n\n"+
			"Option 1: Store your API key:\n"+
			"  gametl auth login --provider %s\n\n"+
			"Option 2: Pass key directly:\n"+
			"  --api-key YOUR_KEY, GAMETL_API_KEY in .env, or %s",
			prov.ID, prov.ID, env)
	}
	if prov.ID == translate.ProviderCustomOpenAI && prov.BaseURL == "" {
		return fmt.Errorf("provider 'custom-openai' requires an endpoint URL\n\n" +
			"Option 1: Configure via auth:\n" +
			"  gametl auth login --provider custom-openai\n\n" +
			"Option 2: Pass directly:\n" +
			"  --base-url https://api.example.com/v1")
	}
	return nil
}
