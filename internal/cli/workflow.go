package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	internal_http "github.com/nadalpiantini/omnidrive/internal/http"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/nadalpiantini/omnidrive/pkg/storage"
	"github.com/nadalpiantini/omnidrive/pkg/workflow"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run and inspect automated workflows",
	}
	cmd.AddCommand(c.workflowListCmd(), c.workflowRunCmd(), c.workflowStatusCmd(), c.workflowJobsCmd())
	return cmd
}

func (c *cli) workflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workflows := c.app.Engine.ListWorkflows()
			if len(workflows) == 0 {
				c.printf("No workflows found.\n")
				return nil
			}
			c.printf("\n⚙️ Available Workflows:\n")
			c.printf("%s\n", strings.Repeat("-", 60))
			for _, wf := range workflows {
				c.printf("  • %s (%s)\n", wf.Name, wf.Kind)
				c.printf("    %s\n", wf.Description)
				c.printf("    Steps: %s\n", strings.Join(wf.Steps, " → "))
			}
			return nil
		},
	}
}

// parseParams turns key=value pairs into workflow parameters. Booleans and
// integers are recognised; everything else stays a string.
func parseParams(pairs []string) (models.Params, error) {
	params := models.Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid parameter %q, expected key=value", pair)
		}
		if b, err := strconv.ParseBool(value); err == nil {
			params[key] = b
		} else if n, err := strconv.Atoi(value); err == nil {
			params[key] = n
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func (c *cli) workflowRunCmd() *cobra.Command {
	var (
		pairs  []string
		asJob  bool
		output bool
	)
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a workflow",
		Example: "  omnidrive workflow run smart-sync -p source=google -p target=folderfort -p dry_run=false\n" +
			"  omnidrive workflow run rag-search -p query=\"budget report\"",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			params, err := parseParams(pairs)
			if err != nil {
				return err
			}
			c.printf("\n🚀 Running workflow: %s\n", name)
			c.printf("%s\n", strings.Repeat("=", 60))

			if asJob {
				id, err := c.app.Engine.RunWorkflow(ctx, name, params)
				if err != nil {
					return err
				}
				c.printf("Job %s started\n", id)
				job, err := c.follow(ctx, id)
				if err != nil {
					return err
				}
				if err := jobError(job); err != nil {
					return err
				}
				c.printf("✓ Job %s completed\n", id)
				return c.dump(output, job.Result)
			}

			observer := workflow.WithObserver(func(index, total int, step string) {
				c.printf("  [%d/%d] %s\n", index+1, total, step)
			})
			result := c.app.Engine.ExecuteWorkflow(ctx, name, params, observer)
			if !result.Succeeded() {
				if result.Err != nil {
					return result.Err
				}
				return errors.New(result.Message)
			}
			c.printf("✓ %s\n", result.Message)
			return c.dump(output, result.Data)
		},
	}
	cmd.Flags().StringArrayVarP(&pairs, "param", "p", nil, "Workflow parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJob, "job", false, "Record the run as a job in the job store")
	cmd.Flags().BoolVarP(&output, "output", "o", false, "Print the result data as YAML")
	return cmd
}

func (c *cli) dump(enabled bool, data any) error {
	if !enabled || data == nil {
		return nil
	}
	enc := yaml.NewEncoder(c.opts.Out)
	enc.SetIndent(2)
	if err := enc.Encode(models.ToParams(data)); err != nil {
		return errors.Wrap(err, "encode result")
	}
	return enc.Close()
}

func (c *cli) workflowStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.app.Engine.GetJobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.printf("Job:      %s\n", job.ID)
			c.printf("Workflow: %s (%s)\n", job.Workflow, job.Kind)
			c.printf("Status:   %s\n", job.Status)
			c.printf("Progress: %.0f%%", job.Progress*100)
			if job.CurrentStep != "" {
				c.printf(" (%s)", job.CurrentStep)
			}
			c.printf("\n")
			c.printf("Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
			if job.CompletedAt != nil {
				c.printf("Finished: %s\n", job.CompletedAt.Format(time.RFC3339))
			}
			if job.Error != "" {
				c.printf("Error:    %s [%s]\n", job.Error, job.ErrorKind)
			}
			return nil
		},
	}
}

func (c *cli) workflowJobsCmd() *cobra.Command {
	var (
		status string
		filter storage.JobFilter
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = models.JobStatus(strings.ToUpper(status))
			jobs, err := c.app.Engine.ListJobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				c.printf("No jobs found.\n")
				return nil
			}
			tw := tabwriter.NewWriter(c.opts.Out, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintf(tw, "ID\tWORKFLOW\tSTATUS\tPROGRESS\tCREATED\n")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%s\n", j.ID, j.Workflow, j.Status, j.Progress*100, j.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this status (pending, running, completed, failed)")
	cmd.Flags().StringVar(&filter.Workflow, "workflow", "", "Only jobs of this workflow")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of jobs")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.app.Config.Server
			if port == 0 {
				port = cfg.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return internal_http.StartServer(ctx, port, c.app.Server(), cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default server.port)")
	return cmd
}
