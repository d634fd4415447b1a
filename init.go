package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/phobologic/markguard/internal/config"
	"github.com/phobologic/markguard/internal/mark"
)

// newInitCmd implements `markguard init`, which writes a config file holding
// the built-in defaults.
func newInitCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun, force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default " + config.FileName,
		Long: `Write a ` + config.FileName + ` holding the built-in rule settings, ready to
edit. path is the file to write or a directory to write it into and defaults
to ./` + config.FileName + `. An existing file is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := config.Default()

			// --dry-run: just print the config itself.
			if dryRun {
				data, err := config.Marshal(defaults)
				if err != nil {
					return err
				}
				_, _ = stdout.Write(data)
				return nil
			}

			path := config.FileName
			if len(args) > 0 {
				path = args[0]
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					path = filepath.Join(path, config.FileName)
				}
			}

			if err := config.Write(path, defaults, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}

			_, _ = fmt.Fprintf(stderr, "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the config without writing it")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// newRulesCmd implements `markguard rules`, which lists the rules as
// configured for a root.
func newRulesCmd(stdout io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rules [path]",
		Short: "List the rules and the methods they allow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			cfg, err := config.Load(configPath, root)
			if err != nil {
				return err
			}

			r := lipgloss.NewRenderer(stdout)
			header := r.NewStyle().Bold(true).Padding(0, 1)
			cell := r.NewStyle().Padding(0, 1)

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(r.NewStyle().Foreground(lipgloss.Color("240"))).
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return header
					}
					return cell
				}).
				Headers("RULE", "ENABLED", "FILES UNDER", "TABLES", "TERMINAL", "MIDDLEWARE")

			for _, rule := range cfg.RuleSet().Sorted() {
				t.Row(
					rule.Name,
					fmt.Sprintf("%t", rule.Enabled),
					rule.Dir,
					strings.Join(rule.Tables, ", "),
					mark.FormatMethods(rule.Taxonomy.Terminal),
					orDash(mark.FormatMethods(rule.Taxonomy.Middleware)),
				)
			}

			_, err = fmt.Fprintln(stdout, t.Render())
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "config file (default <path>/"+config.FileName+")")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
