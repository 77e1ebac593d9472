// Package cli implements the omnidrive command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nadalpiantini/omnidrive/internal/app"
	"github.com/nadalpiantini/omnidrive/internal/auth"
	"github.com/nadalpiantini/omnidrive/internal/log"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/nadalpiantini/omnidrive/pkg/models"
	"github.com/spf13/cobra"
)

type Options struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// App is used instead of building one from the config file. It is not
	// closed by the command.
	App     *app.App
	Version string
}

type cli struct {
	opts       Options
	configPath string
	app        *app.App
	owned      bool
	prompter   *auth.Prompter
	pollEvery  time.Duration
}

// NewRootCmd builds the command tree. The application container is created
// lazily before each command runs.
func NewRootCmd(opts Options) *cobra.Command {
	root, _ := newRoot(opts)
	return root
}

func newRoot(opts Options) (*cobra.Command, *cli) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	c := &cli{opts: opts, pollEvery: 200 * time.Millisecond}
	c.prompter = auth.NewPrompter(opts.In, opts.Out)

	root := &cobra.Command{
		Use:           "omnidrive",
		Short:         "Manage all your cloud drives",
		Version:       opts.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// The server must never block a job on a terminal login.
			return c.open(cmd.Context(), cmd.Name() != "serve")
		},
	}
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ~/.omnidrive/config.yaml)")

	root.AddCommand(
		c.authCmd(),
		c.logoutCmd(),
		c.servicesCmd(),
		c.listCmd(),
		c.uploadCmd(),
		c.downloadCmd(),
		c.deleteCmd(),
		c.createFolderCmd(),
		c.syncCmd(),
		c.compareCmd(),
		c.indexCmd(),
		c.searchCmd(),
		c.workflowCmd(),
		c.sessionCmd(),
		c.serveCmd(),
	)
	return root, c
}

// Execute runs the CLI with the process arguments and reports a failure the
// way users expect: authentication problems point at the auth command.
func Execute(ctx context.Context, version string) int {
	root, c := newRoot(Options{Version: version})
	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		Report(os.Stderr, err)
		return 1
	}
	return 0
}

func (c *cli) open(ctx context.Context, interactive bool) error {
	if c.app != nil {
		return nil
	}
	if c.opts.App != nil {
		c.app = c.opts.App
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, app.Options{
		ConfigPath:  c.configPath,
		Interactive: interactive,
		In:          c.opts.In,
		Out:         c.opts.Out,
	})
	if err != nil {
		return err
	}
	c.app, c.owned = a, true
	return nil
}

func (c *cli) close() error {
	if !c.owned || c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app, c.owned = nil, false
	return err
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.opts.Out, format, args...)
}

func (c *cli) confirm(question string) bool {
	answer, err := c.prompter.Line(question+" (y/N)", "")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// service creates an instance, starting the login flow when the backend has
// no stored credentials.
func (c *cli) service(ctx context.Context, name string) (cloud.Service, error) {
	return c.app.Services.Create(ctx, name, true)
}

// follow polls a job until it finishes, printing each new step.
func (c *cli) follow(ctx context.Context, id string) (models.Job, error) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	lastStep := ""
	for {
		job, err := c.app.Engine.GetJobStatus(ctx, id)
		if err != nil {
			return models.Job{}, err
		}
		if job.CurrentStep != "" && job.CurrentStep != lastStep {
			lastStep = job.CurrentStep
			c.printf("  [%3.0f%%] %s\n", job.Progress*100, job.CurrentStep)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// jobError turns a failed job back into an error carrying its
// classification.
func jobError(job models.Job) error {
	if job.Status != models.FailedJobStatus {
		return nil
	}
	return &JobFailedError{Job: job}
}

type JobFailedError struct {
	Job models.Job
}

func (e *JobFailedError) Error() string {
	return e.Job.Error
}

// Report prints err with a hint matching its classification.
func Report(w io.Writer, err error) {
	kind := cloud.Classify(err)
	service := cloud.ServiceName(err)
	if jf, ok := err.(*JobFailedError); ok {
		kind = jf.Job.ErrorKind
	}
	switch kind {
	case models.AuthenticationErrorKind:
		fmt.Fprintf(w, "Authentication error: %v\n", err)
		if service == "" {
			service = "<service>"
		}
		fmt.Fprintf(w, "Run: omnidrive auth %s\n", service)
	case models.ServiceErrorKind:
		fmt.Fprintf(w, "Service error: %v\n", err)
	default:
		fmt.Fprintf(w, "Unexpected error: %v\n", err)
	}
	log.GetLogger().Debugf("Command failed: %+v", err)
}
