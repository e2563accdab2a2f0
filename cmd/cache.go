package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the analyzer result cache",
	}
	cmd.AddCommand(newCachePurgeCmd())
	return cmd
}

func newCachePurgeCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired and corrupt entries, or every entry for --url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c := a.Cache()
			if c == nil {
				return errors.New("result cache is disabled")
			}
			var removed int
			if url != "" {
				removed = c.Invalidate(cmd.Context(), func(k cache.Key) bool { return k.URL == url })
			} else {
				removed = c.Purge(cmd.Context())
			}
			a.Logger().Info("cache purged", zap.String("url", url), zap.Int("removed", removed))
			return writeJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "only remove entries for this page URL")
	return cmd
}
