package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Save and resume named sessions",
	}
	cmd.AddCommand(c.sessionSaveCmd(), c.sessionResumeCmd(), c.sessionListCmd(), c.sessionDeleteCmd())
	return cmd
}

// authState reports which services have usable stored credentials, without
// prompting for any.
func (c *cli) authState() map[string]bool {
	state := make(map[string]bool)
	for _, name := range c.app.Services.Available() {
		svc, err := c.app.Services.CreateStored(name)
		state[name] = err == nil && svc.IsAuthenticated()
	}
	return state
}

func (c *cli) sessionSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current authentication state under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.app.Sessions.Save(args[0], c.authState()); err != nil {
				return err
			}
			c.printf("✓ Session '%s' saved\n", args[0])
			return nil
		},
	}
}

func (c *cli) sessionResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <name>",
		Short: "Show a saved session next to the current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.app.Sessions.Load(args[0])
			if err != nil {
				return err
			}
			current := c.authState()
			c.printf("📋 Resuming session '%s'\n", args[0])
			c.printf("   Saved at: %s\n", state.SavedAt.Local().Format(time.RFC3339))
			for _, name := range c.app.Services.Available() {
				c.printf("   %s authenticated: %t", name, state.Authenticated[name])
				if current[name] != state.Authenticated[name] {
					c.printf(" (now %t)", current[name])
				}
				c.printf("\n")
			}
			return nil
		},
	}
}

func (c *cli) sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := c.app.Sessions.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				c.printf("No saved sessions found.\n")
				return nil
			}
			c.printf("\n💾 Saved Sessions:\n")
			c.printf("%s\n", strings.Repeat("-", 60))
			for _, s := range sessions {
				c.printf("  • %s (saved: %s)\n", s.Name, s.SavedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (c *cli) sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := c.app.Sessions.Delete(args[0])
			if err != nil {
				return err
			}
			if !removed {
				c.printf("No session named %s.\n", args[0])
				return nil
			}
			c.printf("✓ Session '%s' deleted\n", args[0])
			return nil
		},
	}
}
