package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/project"
)

func (a *cli) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage projects",
	}
	cmd.AddCommand(
		a.projectsListCmd(),
		a.projectsGetCmd(),
		a.projectsRenameCmd(),
		a.projectsPublishCmd(),
		a.projectsUnpublishCmd(),
		a.projectsDeleteCmd(),
		a.projectsCollaboratorsCmd(),
	)
	return cmd
}

func printProjectTable(w io.Writer, projects []project.Metadata) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tSTATE\tSAVED\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Owner, p.State, p.SaveState,
			p.Updated.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func (a *cli) projectsListCmd() *cobra.Command {
	var owner, sharedWith string
	var community bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects by owner, collaborator, or the public gallery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var path string
			switch {
			case community:
				path = "/projects/community"
			case sharedWith != "":
				path = "/projects/shared/" + url.PathEscape(sharedWith)
			case owner != "":
				path = "/projects/user/" + url.PathEscape(owner)
			default:
				return fmt.Errorf("one of --user, --shared, or --community is required")
			}
			var projects []project.Metadata
			if err := a.client().do(cmd.Context(), http.MethodGet, path, nil, &projects); err != nil {
				return err
			}
			return a.emit(projects, func(w io.Writer) { printProjectTable(w, projects) })
		},
	}
	cmd.Flags().StringVar(&owner, "user", "", "list projects owned by this user")
	cmd.Flags().StringVar(&sharedWith, "shared", "", "list projects shared with this user")
	cmd.Flags().BoolVar(&community, "community", false, "list the public gallery")
	return cmd
}

func (a *cli) projectsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta project.Metadata
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/projects/id/"+url.PathEscape(args[0]), nil, &meta); err != nil {
				return err
			}
			return a.emit(meta, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintf(tw, "ID:\t%s\n", meta.ID)
				fmt.Fprintf(tw, "Name:\t%s\n", meta.Name)
				fmt.Fprintf(tw, "Owner:\t%s\n", meta.Owner)
				fmt.Fprintf(tw, "State:\t%s\n", meta.State)
				fmt.Fprintf(tw, "Save state:\t%s\n", meta.SaveState)
				fmt.Fprintf(tw, "Updated:\t%s\n", meta.Updated.Format("2006-01-02 15:04"))
				for _, role := range meta.Roles {
					fmt.Fprintf(tw, "Role:\t%s\n", role.Name)
				}
				for _, collab := range meta.Collaborators {
					fmt.Fprintf(tw, "Collaborator:\t%s\n", collab)
				}
				tw.Flush()
			})
		},
	}
}

// patchProject sends a partial update and prints the stored result.
func (a *cli) patchProject(cmd *cobra.Command, id string, body map[string]any) error {
	var meta project.Metadata
	if err := a.client().do(cmd.Context(), http.MethodPatch,
		"/projects/id/"+url.PathEscape(id), body, &meta); err != nil {
		return err
	}
	return a.emit(meta, func(w io.Writer) {
		fmt.Fprintf(w, "%s is now %q (%s)\n", meta.ID, meta.Name, meta.State)
	})
}

func (a *cli) projectsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a project (collisions get a numeric suffix)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.patchProject(cmd, args[0], map[string]any{"name": args[1]})
		},
	}
}

func (a *cli) projectsPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish ID",
		Short: "Publish a project to the community gallery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.patchProject(cmd, args[0], map[string]any{"state": project.Public})
		},
	}
}

func (a *cli) projectsUnpublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish ID",
		Short: "Make a project private again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.patchProject(cmd, args[0], map[string]any{"state": project.Private})
		},
	}
}

func (a *cli) projectsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project and its role content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete,
				"/projects/id/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *cli) projectsCollaboratorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collaborators",
		Short: "Manage project collaborators",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list ID",
			Short: "List a project's collaborators",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var names []string
				if err := a.client().do(cmd.Context(), http.MethodGet,
					"/projects/id/"+url.PathEscape(args[0])+"/collaborators", nil, &names); err != nil {
					return err
				}
				return a.emit(names, func(w io.Writer) {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
				})
			},
		},
		&cobra.Command{
			Use:   "invite ID USERNAME",
			Short: "Invite a user to collaborate",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client().do(cmd.Context(), http.MethodPost,
					"/projects/id/"+url.PathEscape(args[0])+"/collaborators/invite/"+url.PathEscape(args[1]),
					nil, nil); err != nil {
					return err
				}
				fmt.Printf("Invited %s\n", args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove ID USERNAME",
			Short: "Remove a collaborator",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client().do(cmd.Context(), http.MethodDelete,
					"/projects/id/"+url.PathEscape(args[0])+"/collaborators/"+url.PathEscape(args[1]),
					nil, nil); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[1])
				return nil
			},
		},
	)
	return cmd
}
