package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/report"
)

func newPageCmd() *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "page <url>",
		Short: "Evaluate a single page and print its report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := a.EvaluatePage(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("evaluate page: %w", err)
			}
			if summary {
				return writeJSON(cmd.OutOrStdout(), report.Aggregate(rep.Results))
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "print the merged analyzer summary instead of the full report")
	return cmd
}

// limitFlags holds the crawl limits shared by site and project.
type limitFlags struct {
	maxDepth    int
	maxSubpages int
}

func (f *limitFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "link depth to expand (defaults to crawler.max_depth)")
	cmd.Flags().IntVar(&f.maxSubpages, "max-subpages", 0, "pages to admit beyond the seed, 0 for unlimited (defaults to crawler.max_subpages)")
}

func (f *limitFlags) request(cmd *cobra.Command, a App, url string) crawler.Request {
	cfg := a.Config()
	req := crawler.Request{
		URL:         url,
		MaxDepth:    cfg.Crawler.MaxDepth,
		MaxSubpages: cfg.Crawler.MaxSubpages,
	}
	if cmd.Flags().Changed("max-depth") {
		req.MaxDepth = f.maxDepth
	}
	if cmd.Flags().Changed("max-subpages") {
		req.MaxSubpages = f.maxSubpages
	}
	return req
}

func newSiteCmd() *cobra.Command {
	var (
		limits  limitFlags
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "site <url>",
		Short: "Crawl a site, evaluate every admitted page and print the site report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := a.EvaluateSite(cmd.Context(), limits.request(cmd, a, args[0]))
			if err != nil {
				return fmt.Errorf("evaluate site: %w", err)
			}
			if summary {
				return writeJSON(cmd.OutOrStdout(), report.SummarizeSite(rep))
			}
			return writeJSON(cmd.OutOrStdout(), rep)
		},
	}
	limits.register(cmd)
	cmd.Flags().BoolVar(&summary, "summary", false, "print the site-wide summary instead of per-page reports")
	return cmd
}

func newProjectCmd() *cobra.Command {
	var (
		limits limitFlags
		name   string
	)
	cmd := &cobra.Command{
		Use:   "project <url> [url...]",
		Short: "Evaluate several sites and print the project roll-up as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sites := make([]evaluation.SiteReport, 0, len(args))
			for _, url := range args {
				rep, err := a.EvaluateSite(cmd.Context(), limits.request(cmd, a, url))
				if err != nil {
					if cmd.Context().Err() != nil {
						return fmt.Errorf("evaluate site %s: %w", url, err)
					}
					a.Logger().Warn("site skipped", zap.String("url", url), zap.Error(err))
					continue
				}
				sites = append(sites, rep)
			}
			if len(sites) == 0 {
				return errors.New("no site could be evaluated")
			}
			return writeJSON(cmd.OutOrStdout(), report.BuildProject(name, sites...))
		},
	}
	limits.register(cmd)
	cmd.Flags().StringVar(&name, "name", "project", "project name in the output")
	return cmd
}
