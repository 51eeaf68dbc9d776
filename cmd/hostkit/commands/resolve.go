package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ncobase/hostkit/extension/loader"
	"github.com/ncobase/hostkit/extension/resolver"
	"github.com/spf13/cobra"
)

// NewResolveCommand creates the resolve command
func NewResolveCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Print the load order of a manifest directory without loading it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			dir := cfg.Extension.Path
			if len(args) == 1 {
				dir = args[0]
			}

			result, err := resolveDirectory(cmd.Context(), dir, cfg.Extension.ReservedNames)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d extension(s) cannot be loaded", len(result.Failures))
			}
			return nil
		},
	}
}

// resolveDirectory describes every manifest of dir and orders them.
// Nothing is instantiated.
func resolveDirectory(ctx context.Context, dir string, reserved []string) (*resolver.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read extension directory %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	l := loader.New()
	result := &resolver.Result{}
	var candidates []*resolver.Candidate
	for _, de := range entries {
		if de.IsDir() || !matches(l, de.Name()) {
			continue
		}
		source := filepath.Join(dir, de.Name())
		c := &resolver.Candidate{Source: source}
		desc, err := l.Describe(source)
		if err != nil {
			result.Failures = append(result.Failures, &resolver.Failure{Candidate: c, Err: err})
			continue
		}
		c.Descriptor = desc
		candidates = append(candidates, c)
	}

	r := resolver.New(resolver.WithReservedNames(reserved...))
	resolved := r.Resolve(ctx, candidates, func(context.Context, *resolver.Candidate) error { return nil })
	result.Loaded = resolved.Loaded
	result.Failures = append(result.Failures, resolved.Failures...)
	return result, nil
}

func matches(l *loader.ManifestLoader, name string) bool {
	for _, p := range l.Patterns() {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

func printResult(w io.Writer, result *resolver.Result) {
	fmt.Fprintln(w, "Load order:")
	for i, c := range result.Loaded {
		fmt.Fprintf(w, "  %d. %s (%s)\n", i+1, c.Descriptor.FullName(), filepath.Base(c.Source))
	}
	if len(result.Failures) == 0 {
		return
	}
	fmt.Fprintln(w, "Failures:")
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  %s: %v\n", filepath.Base(f.Candidate.Source), f.Err)
	}
}
