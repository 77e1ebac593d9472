package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/spf13/cobra"
)

func (c *cli) authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <service>",
		Short: "Authenticate with a cloud storage service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			svc, err := c.service(cmd.Context(), name)
			if err != nil {
				return err
			}
			if !svc.IsAuthenticated() {
				return cloud.NewAuthError(name, "no credentials were provided")
			}
			c.printf("✓ Authenticated with %s\n", name)
			return nil
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <service>",
		Short: "Forget the stored credentials of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := c.app.Tokens.Delete(args[0])
			if err != nil {
				return err
			}
			if !removed {
				c.printf("No stored credentials for %s.\n", args[0])
				return nil
			}
			c.printf("✓ Logged out of %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) servicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the supported services and their authentication state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.printf("Services:\n")
			for _, name := range c.app.Services.Available() {
				status := "not authenticated"
				if svc, err := c.app.Services.CreateStored(name); err == nil && svc.IsAuthenticated() {
					status = "authenticated"
				}
				c.printf("  • %-12s %s\n", name, status)
			}
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var (
		drive string
		opts  cloud.ListOptions
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in a cloud drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context(), drive)
			if err != nil {
				return err
			}
			files, err := svc.ListFiles(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				c.printf("No files found in %s.\n", drive)
				return nil
			}
			c.printf("\n📁 %s Files (showing %d):\n", capitalize(drive), len(files))
			c.printf("%s\n", strings.Repeat("-", 60))
			for _, f := range files {
				c.printf("%s %s\n", fileIcon(f), f.Name)
				if size := formatSize(f.Size); size != "" {
					c.printf("   ID: %s | Size: %s\n", f.ID, size)
				} else {
					c.printf("   ID: %s\n", f.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&drive, "drive", string(cloud.Google), "Which drive to list")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "Maximum number of files to list")
	cmd.Flags().StringVar(&opts.FolderID, "folder-id", "", "List the contents of this folder")
	cmd.Flags().StringVar(&opts.Query, "query", "", "Only files whose name contains this text")
	cmd.Flags().BoolVar(&opts.Trashed, "trashed", false, "List trashed files instead")
	return cmd
}

func (c *cli) uploadCmd() *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "upload <file> <drive>",
		Short: "Upload a local file to a cloud drive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, drive := args[0], args[1]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return &os.PathError{Op: "upload", Path: path, Err: os.ErrInvalid}
			}
			svc, err := c.service(cmd.Context(), drive)
			if err != nil {
				return err
			}
			size := info.Size()
			c.printf("\n📤 Uploading %s\n", filepath.Base(path))
			c.printf("   Size: %s\n", formatSize(&size))
			file, err := svc.UploadFile(cmd.Context(), path, parentID)
			if err != nil {
				return err
			}
			c.printf("✓ Uploaded successfully!\n")
			c.printf("   ID: %s\n", file.ID)
			c.printf("   Name: %s\n", file.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&parentID, "parent-id", "", "Parent folder ID")
	return cmd
}

func (c *cli) downloadCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "download <drive> <file-id>",
		Short: "Download a file by ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			path, err := svc.DownloadFile(cmd.Context(), args[1], dest)
			if err != nil {
				return err
			}
			c.printf("✓ Downloaded to: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", ".", "Local destination folder or file path")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	var permanent, yes bool
	cmd := &cobra.Command{
		Use:   "delete <drive> <file-id>",
		Short: "Delete a file, moving it to the trash unless --permanent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			drive, id := args[0], args[1]
			svc, err := c.service(cmd.Context(), drive)
			if err != nil {
				return err
			}
			if !yes {
				question := "Move file to trash in " + drive + "?"
				if permanent {
					question = "Permanently delete file from " + drive + "? This cannot be undone."
				}
				if !c.confirm("⚠️  " + question) {
					c.printf("Delete cancelled.\n")
					return nil
				}
			}
			if _, err := svc.DeleteFile(cmd.Context(), id, permanent); err != nil {
				return err
			}
			if permanent {
				c.printf("✓ File permanently deleted.\n")
			} else {
				c.printf("✓ File moved to trash.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "Skip the trash")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (c *cli) createFolderCmd() *cobra.Command {
	var parentID string
	cmd := &cobra.Command{
		Use:   "create-folder <drive> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			folder, err := svc.CreateFolder(cmd.Context(), args[1], parentID)
			if err != nil {
				return err
			}
			c.printf("✓ Folder created successfully!\n")
			c.printf("   Name: %s\n", folder.Name)
			c.printf("   ID: %s\n", folder.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&parentID, "parent-id", "", "Parent folder ID")
	return cmd
}
