package cli

import (
	"fmt"
	"strings"

	"github.com/nadalpiantini/omnidrive/internal/pipelines"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const listPreview = 10

func (c *cli) syncCmd() *cobra.Command {
	var (
		dryRun, yes bool
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "sync <source> <target>",
		Short: "Copy files missing from TARGET over from SOURCE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, target := args[0], args[1]
			if source == target {
				return errors.New("source and target must be different")
			}
			c.printf("\n🔄 Syncing from %s to %s\n", source, target)
			c.printf("%s\n", strings.Repeat("=", 60))

			src, err := c.service(ctx, source)
			if err != nil {
				return err
			}
			dst, err := c.service(ctx, target)
			if err != nil {
				return err
			}
			srcFiles, err := src.ListFiles(ctx, cloud.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			dstFiles, err := dst.ListFiles(ctx, cloud.ListOptions{Limit: limit})
			if err != nil {
				return err
			}
			plan := cloud.Missing(srcFiles, dstFiles)
			if len(plan) == 0 {
				c.printf("✓ All files already in sync!\n")
				return nil
			}

			c.printf("\n📋 Files to sync: %d\n", len(plan))
			for _, f := range plan {
				c.printf("%s %s %s\n", fileIcon(f), f.Name, formatSize(f.Size))
			}
			if dryRun {
				c.printf("\n[DRY RUN] No files were actually synced.\n")
				return nil
			}
			if !yes && !c.confirm(fmt.Sprintf("\nSync %d files?", len(plan))) {
				c.printf("Sync cancelled.\n")
				return nil
			}

			params := models.Params{"source": source, "target": target, "limit": limit}
			id, err := c.app.Engine.Submit(ctx, models.SyncJobKind, pipelines.SyncJobName, params, len(plan),
				pipelines.SyncJob(c.app.Services, source, target, limit, false))
			if err != nil {
				return err
			}
			job, err := c.follow(ctx, id)
			if err != nil {
				return err
			}
			if err := jobError(job); err != nil {
				return err
			}
			synced, _ := job.Result["files_synced"].([]any)
			c.printf("\n✓ Synced %d files!\n", len(synced))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be synced without syncing")
	cmd.Flags().IntVar(&limit, "limit", cloud.DefaultListLimit, "Maximum number of files to consider")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (c *cli) compareCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "compare <service1> <service2>",
		Short: "Compare the root files of two services by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if args[0] == args[1] {
				return errors.New("services must be different")
			}
			a, err := c.service(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := c.service(ctx, args[1])
			if err != nil {
				return err
			}
			c.printf("\n🔍 Comparing %s vs %s\n", args[0], args[1])
			c.printf("%s\n", strings.Repeat("=", 60))
			diff, err := cloud.Compare(ctx, a, b, limit)
			if err != nil {
				return err
			}
			c.printf("\n📊 Statistics:\n")
			c.printf("   Total in %s: %d\n", diff.ServiceA, diff.TotalA)
			c.printf("   Total in %s: %d\n", diff.ServiceB, diff.TotalB)
			c.printf("   Common files: %d\n", len(diff.Common))
			c.printOnly(diff.ServiceA, diff.OnlyInA)
			c.printOnly(diff.ServiceB, diff.OnlyInB)
			c.printf("\n✓ Comparison complete!\n")
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cloud.DefaultListLimit, "Maximum number of files to compare")
	return cmd
}

func (c *cli) printOnly(service string, names []string) {
	if len(names) == 0 {
		return
	}
	c.printf("\n✅ Only in %s (%d):\n", service, len(names))
	for i, name := range names {
		if i == listPreview {
			c.printf("   ... and %d more\n", len(names)-listPreview)
			break
		}
		c.printf("   • %s\n", name)
	}
}

func (c *cli) indexCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "index <service>",
		Short: "Index the text files of a service for semantic search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			if _, err := c.service(ctx, name); err != nil {
				return err
			}
			c.printf("\n🔍 Indexing %s files for semantic search\n", name)
			c.printf("%s\n", strings.Repeat("=", 60))

			params := models.Params{"service": name, "limit": limit}
			id, err := c.app.Engine.Submit(ctx, models.SearchJobKind, pipelines.IndexJobName, params, 0,
				pipelines.IndexJob(c.app.Services, c.app.Indexer, name, limit))
			if err != nil {
				return err
			}
			job, err := c.follow(ctx, id)
			if err != nil {
				return err
			}
			if err := jobError(job); err != nil {
				return err
			}
			c.printf("\n✓ Indexed %d of %d files (%d chunks)\n",
				job.Result.Int("indexed", 0), job.Result.Int("listed", 0), job.Result.Int("chunks", 0))
			if failed, _ := job.Result["failed"].([]any); len(failed) > 0 {
				c.printf("⚠ %d files could not be indexed\n", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", cloud.DefaultListLimit, "Maximum number of files to index")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		service string
		topK    int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed files by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if topK <= 0 {
				topK = c.app.Config.RAG.TopK
			}
			c.printf("\n🔍 Semantic Search: '%s'\n", query)
			c.printf("%s\n", strings.Repeat("=", 60))
			matches, err := c.app.Search.Search(cmd.Context(), query, topK, service)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				c.printf("No results found.\n")
				c.printf("\n💡 Tip: Index files first with: omnidrive index <service>\n")
				return nil
			}
			for i, m := range matches {
				name := m.Metadata["file_name"]
				if name == "" {
					name = "Unknown"
				}
				c.printf("\n%d. %s\n", i+1, name)
				c.printf("   Service: %s\n", m.Metadata["service"])
				c.printf("   Relevance: %.1f%%\n", m.Score()*100)
				if snippet := preview(m.Document); snippet != "" {
					c.printf("   Snippet: %s\n", snippet)
				}
			}
			c.printf("\n✓ Found %d results\n", len(matches))
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "Only search files indexed from this service")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of results (default rag.top_k)")
	return cmd
}

func preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= 200 {
		return string(runes)
	}
	return string(runes[:200]) + "..."
}
