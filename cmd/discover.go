package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/server"
)

type discoverOptions struct {
	mode   string
	file   string
	pretty bool
}

func newDiscoverCmd() *cobra.Command {
	opts := &discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Loads the artifacts published at a URL and prints them as JSON",
		Long: `Loads every artifact reachable from <url>. In html mode the page is
scanned for JSON-LD blocks and references; in json mode <url> itself is the
JSON-LD payload. With --file the HTML is read from disk and <url> is only used
to resolve relative references.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(discovery.ModeHTML), "how to interpret the URL: html or json")
	cmd.Flags().StringVar(&opts.file, "file", "", "read the HTML document from this file instead of fetching it")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func runDiscover(cmd *cobra.Command, target string, opts *discoverOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	mode := discovery.Mode(opts.mode)
	if !mode.Valid() {
		return fmt.Errorf("mode must be html or json, got %q", opts.mode)
	}
	if opts.file != "" && mode != discovery.ModeHTML {
		return fmt.Errorf("--file requires html mode")
	}

	fetchers, err := server.NewFetchers(rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("init fetchers: %w", err)
	}
	defer fetchers.Close()

	ctx := cmd.Context()
	var arts []artifact.Artifact
	switch {
	case opts.file != "":
		f, openErr := os.Open(opts.file)
		if openErr != nil {
			return fmt.Errorf("open %s: %w", opts.file, openErr)
		}
		defer f.Close()
		arts, err = fetchers.Loader.FromHTML(ctx, f, target)
	case mode == discovery.ModeJSON:
		arts, err = fetchers.Loader.FromJSONURL(ctx, target)
	default:
		arts, err = fetchers.Loader.FromHTMLURL(ctx, target)
	}
	if err != nil {
		return fmt.Errorf("discover %s: %w", target, err)
	}
	rt.logger.Info("discovery finished", zap.String("url", target), zap.Int("artifacts", len(arts)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(arts); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
