package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lex00/tierstack-go/internal/template"
	"github.com/lex00/tierstack-go/internal/validation"
)

// newWatchCmd creates the "watch" subcommand for rebuilding on configuration changes.
func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild when the configuration file changes",
		Long: `Watch monitors the configuration file and rebuilds the stack on every change.

The watch command:
- Reloads the configuration file when it is written, created or renamed over
- Validates the composed stack on each change
- Writes the template if validation passes (unless --validate-only)
- Debounces rapid changes to avoid excessive rebuilds

Examples:
    tierstack watch --config stack.yaml -o template.json
    tierstack watch --config stack.yaml --validate-only
    tierstack watch --config stack.yaml --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			if file == "" {
				return fmt.Errorf("watch needs --config")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, file, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.validateOnly, "validate-only", false, "Only validate, skip writing the template")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", 500*time.Millisecond, "Debounce duration for rapid changes")
	cmd.Flags().StringVarP(&opts.outputFormat, "format", "f", "json", "Output format for build: json or yaml")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Output file for build (default: report only)")

	return cmd
}

type watchOptions struct {
	validateOnly bool
	debounce     time.Duration
	outputFormat string
	outputFile   string
}

// runWatch rebuilds once, then again after every debounced change to file.
func runWatch(ctx context.Context, cmd *cobra.Command, file string, opts watchOptions) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory: editors replace files by renaming over them.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching: %s\n", abs)

	rebuild(cmd, opts)

	var debounceTimer *time.Timer
	rebuildChan := make(chan struct{}, 1)

	fmt.Fprintln(cmd.OutOrStdout(), "\nWatching for changes... (Ctrl+C to stop)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(opts.debounce, func() {
				select {
				case rebuildChan <- struct{}{}:
				default:
				}
			})

		case <-rebuildChan:
			fmt.Fprintf(cmd.OutOrStdout(), "\n[%s] Change detected, rebuilding...\n", time.Now().Format("15:04:05"))
			rebuild(cmd, opts)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watch error: %v\n", err)

		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\nStopping watch...")
			return nil
		}
	}
}

// rebuild reloads the configuration, validates the stack and writes the template.
// It reports whether the rebuild succeeded.
func rebuild(cmd *cobra.Command, opts watchOptions) bool {
	out := cmd.OutOrStdout()
	a, err := setup(cmd)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Config error: %v\n", err)
		return false
	}
	plan, err := a.assemble(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Build error: %v\n", err)
		return false
	}

	result := validation.Validate(plan, validation.Options{})
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", e)
		}
		fmt.Fprintln(out, "Validation failed, skipping build")
		return false
	}
	fmt.Fprintln(out, "Validation passed")

	if opts.validateOnly {
		return true
	}

	tmpl, err := template.FromPlan(plan).Build()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Build error: %v\n", err)
		return false
	}
	data, err := renderTemplate(tmpl, opts.outputFormat)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Output error: %v\n", err)
		return false
	}

	if opts.outputFile == "" {
		fmt.Fprintln(out, "Build successful")
		fmt.Fprintf(out, "Generated %d resources\n", len(tmpl.Resources))
		return true
	}
	if err := os.WriteFile(opts.outputFile, data, 0o644); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Failed to write output: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "Build successful, wrote %s\n", opts.outputFile)
	return true
}
