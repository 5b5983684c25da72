package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagemirror/internal/store"
)

// newCrawlCmd creates the 'crawl' subcommand, which mirrors one start URL in
// the foreground. Flags override the config file and PAGEMIRROR_* variables.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Mirror a page and its resources to disk",
		Long: `Fetches the start URL, downloads the images, videos, scripts and
stylesheets it references and saves the page with links rewritten to the
local copies. With --depth > 0 same-site links are followed as well.`,
		Example: "  pagemirror crawl --url example.com --depth 1 --output ./mirrors --task-dir",
		RunE:    runCrawlCommand,
	}

	f := cmd.Flags()
	f.String("url", "", "start URL; https:// is assumed when no scheme is given")
	f.StringP("output", "o", ".", "output directory")
	f.IntP("depth", "d", 0, "how many link levels to follow from the start page")
	f.String("mode", "full", "full saves pages and resources, media_only saves resources only")
	f.Bool("images", true, "download images")
	f.Bool("videos", true, "download videos")
	f.Bool("convert", false, "re-encode downloaded images to --format")
	f.String("format", "PNG", "image conversion target: PNG or JPG")
	f.Bool("task-dir", false, "write into <output>/<host>_<YYYYmmdd_HHMMSS>")
	f.Int("workers", 6, "parallel resource downloads per page")
	f.String("dedup", "presence", "presence skips files already on disk, none always downloads")
	f.Bool("style-urls-respect-filters", false, "apply --images/--videos to url() references in style blocks")
	f.Int("timeout", 10, "per-request timeout in seconds")
	f.Float64("rate-limit", 0, "max requests per second per host, 0 for unlimited")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	opts := rt.cfg.CrawlOptions()
	if strings.TrimSpace(opts.URL) == "" {
		return errors.New("a start URL is required (--url or crawl.url)")
	}

	run, err := rt.app.Mirror(cmd.Context(), opts)
	if run.Summary != nil {
		printSummary(cmd.OutOrStdout(), run)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run mirror: %w", err)
	}
	rt.logger.Info("crawl command finished")
	return nil
}

func printSummary(w io.Writer, run store.Run) {
	s := run.Summary
	fmt.Fprintf(w, "run %s %s\n", run.ID, run.Status)
	fmt.Fprintf(w, "  output:    %s\n", s.OutputDir)
	fmt.Fprintf(w, "  pages:     %d saved, %d failed (%d visited)\n", s.PagesSaved, s.PagesFailed, s.PagesVisited)
	fmt.Fprintf(w, "  resources: %d downloaded, %d already present, %d failed, %d filtered\n",
		s.ResourcesFetched, s.ResourcesExisting, s.ResourcesFailed, s.ResourcesFiltered)
	fmt.Fprintf(w, "  bytes:     %d\n", s.Bytes)
	if run.ArchiveURI != "" {
		fmt.Fprintf(w, "  archive:   %s\n", run.ArchiveURI)
	}
}
