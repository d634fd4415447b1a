// markguard checks that JavaScript event and command handlers call a method
// of their completion value exactly once on every code path.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/spf13/cobra"

	"github.com/phobologic/markguard/internal/config"
	"github.com/phobologic/markguard/internal/discover"
	"github.com/phobologic/markguard/internal/lang"
	"github.com/phobologic/markguard/internal/lint"
	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/report"
	"github.com/phobologic/markguard/internal/rules"
)

var version = "dev"

// errDiagnostics signals a completed run that found error-severity
// diagnostics. It sets the exit status without printing anything.
var errDiagnostics = errors.New("diagnostics found")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errDiagnostics) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

type options struct {
	configPath   string
	format       string
	rules        []string
	maxFileSize  int
	cachePath    string
	includeTests bool
	verbose      bool
	showVersion  bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "markguard [flags] [path]",
		Short: "Check that handlers call a method of mark exactly once on every code path",
		Long: `markguard lints JavaScript and TypeScript handler functions. Every function
that declares the completion parameter (mark) must call exactly one allowed
method of it on each code path that returns:

  writeModel/**        commands   asDone or asRejected, middleware asReadyForNext or asRejected
  flows/**             when       asDone
  readModel/lists/**   when       asDone

path is a directory (default ".") or a single file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				_, _ = fmt.Fprintf(stdout, "markguard %s\n", version)
				return nil
			}
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			return lintTarget(cmd, target, opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default <root>/"+config.FileName+")")
	flags.StringVarP(&opts.format, "format", "f", "", "output format: text, json or toon")
	flags.StringSliceVarP(&opts.rules, "rule", "r", nil, "only run the named rule (repeatable)")
	flags.IntVar(&opts.maxFileSize, "max-file-size", config.DefaultMaxFileSize, "skip files larger than this many bytes")
	flags.StringVar(&opts.cachePath, "cache", "", "cache file path")
	flags.BoolVar(&opts.includeTests, "include-tests", false, "lint test files and test directories too")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	flags.BoolVarP(&opts.showVersion, "version", "V", false, "show version and exit")

	cmd.AddCommand(newInitCmd(stdout, stderr))
	cmd.AddCommand(newRulesCmd(stdout))
	return cmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func lintTarget(cmd *cobra.Command, target string, opts options, stdout, stderr io.Writer) error {
	logger := newLogger(stderr, opts.verbose)

	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	root, single := abs, ""
	if !info.IsDir() {
		root, single = filepath.Dir(abs), filepath.Base(abs)
	}

	cfg, err := config.Load(opts.configPath, root)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		if !config.ValidFormat(opts.format) {
			return fmt.Errorf("unsupported format %q", opts.format)
		}
		cfg.Format = opts.format
	}
	if cmd.Flags().Changed("max-file-size") {
		cfg.MaxFileSize = opts.maxFileSize
	}
	if cfg.Path != "" {
		logger.Debug("loaded config", "path", cfg.Path)
	}

	set, err := selectRules(cfg.RuleSet(), opts.rules)
	if err != nil {
		return err
	}

	var files []discover.FileEntry
	if single != "" {
		langName := lang.ForExtension(filepath.Ext(single))
		if langName == "" {
			return fmt.Errorf("%s: unsupported file type", target)
		}
		files = []discover.FileEntry{{Path: single, Language: langName}}
	} else {
		files, err = discover.Files(root, discover.Options{
			Ignore:       cfg.Ignore,
			IncludeTests: opts.includeTests || cfg.IncludeTests,
		})
		if err != nil {
			return fmt.Errorf("discovering files: %w", err)
		}
	}
	logger.Debug("discovered files", "root", root, "count", len(files))

	key, err := cacheKey{
		Version:      version,
		Target:       filepath.Join(root, single),
		Completion:   cfg.Completion,
		IncludeTests: opts.includeTests || cfg.IncludeTests,
		Ignore:       cfg.Ignore,
		MaxFileSize:  cfg.MaxFileSize,
		Rules:        set,
	}.fingerprint()
	if err != nil {
		return err
	}
	if opts.cachePath != "" {
		if cached, ok := loadCache(opts.cachePath, key, root, cfg.Path, files); ok {
			logger.Debug("using cached report", "path", opts.cachePath)
			return finish(stdout, cfg.Format, cached)
		}
	}

	files = filterBySize(root, files, cfg.MaxFileSize, logger)

	linter := lint.New(set, cfg.Completion)
	linter.Root = root
	rep := &model.Report{
		Root:  filepath.Base(root),
		Files: lintFilesConcurrent(cmd.Context(), root, files, linter, logger),
	}

	if opts.cachePath != "" {
		if err := writeCache(opts.cachePath, key, rep); err != nil {
			logger.Warn("writing cache", "path", opts.cachePath, "err", err)
		}
	}

	return finish(stdout, cfg.Format, rep)
}

// selectRules applies the --rule filter. Unknown names are an error.
func selectRules(set rules.Set, names []string) (rules.Set, error) {
	for _, name := range names {
		if _, ok := set.Get(name); !ok {
			return nil, fmt.Errorf("unknown rule %q", name)
		}
	}
	selected := set.Only(names)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no rules enabled")
	}
	return selected, nil
}

func finish(w io.Writer, format string, rep *model.Report) error {
	if err := report.Write(w, format, rep); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if rep.CountSeverity(model.Error) > 0 {
		return errDiagnostics
	}
	return nil
}

func filterBySize(root string, files []discover.FileEntry, maxSize int, logger *slog.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > int64(maxSize) {
			logger.Warn("skipped oversized file", "path", f.Path, "limit", maxSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func lintFilesConcurrent(ctx context.Context, root string, files []discover.FileEntry, linter *lint.Linter, logger *slog.Logger) []model.FileReport {
	if len(files) == 0 {
		return nil
	}

	type result struct {
		index  int
		report model.FileReport
		ok     bool
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parsers
			parsers := make(map[string]*parserPair)

			for idx := range work {
				if ctx.Err() != nil {
					continue
				}
				f := files[idx]
				pp, ok := parsers[f.Language]
				if !ok {
					l := lang.Languages[f.Language]
					pp = &parserPair{lang: l, parser: l.NewParser()}
					parsers[f.Language] = pp
				}

				source, err := os.ReadFile(filepath.Join(root, f.Path))
				if err != nil {
					logger.Warn("failed to read file", "path", f.Path, "err", err)
					continue
				}

				rep, err := linter.Source(ctx, pp.lang, pp.parser, filepath.ToSlash(f.Path), source)
				if err != nil {
					logger.Warn("failed to parse file", "path", f.Path, "err", err)
					continue
				}
				logger.Debug("linted file", "path", f.Path, "rules", rep.Rules, "problems", len(rep.Diagnostics))
				results <- result{index: idx, report: rep, ok: true}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in discovery order
	indexed := make([]model.FileReport, len(files))
	valid := make([]bool, len(files))
	for r := range results {
		indexed[r.index] = r.report
		valid[r.index] = r.ok
	}

	var reports []model.FileReport
	for i, v := range valid {
		if v {
			reports = append(reports, indexed[i])
		}
	}
	return reports
}

type parserPair struct {
	lang   *lang.Language
	parser *sitter.Parser
}
