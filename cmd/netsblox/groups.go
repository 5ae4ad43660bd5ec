package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/group"
	"github.com/netsblox/cloud/internal/user"
)

func (a *cli) groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage class groups",
	}
	cmd.AddCommand(
		a.groupsCreateCmd(),
		a.groupsListCmd(),
		a.groupsGetCmd(),
		a.groupsRenameCmd(),
		a.groupsDeleteCmd(),
		a.groupsMembersCmd(),
	)
	return cmd
}

func (a *cli) groupsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group owned by the logged-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g group.Group
			if err := a.client().do(cmd.Context(), http.MethodPost, "/groups",
				map[string]string{"name": args[0]}, &g); err != nil {
				return err
			}
			return a.emit(g, func(w io.Writer) {
				fmt.Fprintf(w, "Created group %s (%s)\n", g.Name, g.ID)
			})
		},
	}
}

func (a *cli) groupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the logged-in user's groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var groups []group.Group
			if err := a.client().do(cmd.Context(), http.MethodGet, "/groups", nil, &groups); err != nil {
				return err
			}
			return a.emit(groups, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "ID\tNAME\tOWNER")
				for _, g := range groups {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, g.Owner)
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) groupsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var g group.Group
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/groups/"+url.PathEscape(args[0]), nil, &g); err != nil {
				return err
			}
			return a.emit(g, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintf(tw, "ID:\t%s\n", g.ID)
				fmt.Fprintf(tw, "Name:\t%s\n", g.Name)
				fmt.Fprintf(tw, "Owner:\t%s\n", g.Owner)
				fmt.Fprintf(tw, "Created:\t%s\n", g.CreatedAt.Format("2006-01-02"))
				tw.Flush()
			})
		},
	}
}

func (a *cli) groupsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPatch,
				"/groups/"+url.PathEscape(args[0]),
				map[string]string{"name": args[1]}, nil); err != nil {
				return err
			}
			fmt.Printf("Renamed to %s\n", args[1])
			return nil
		},
	}
}

func (a *cli) groupsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a group and release its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete,
				"/groups/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *cli) groupsMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members ID",
		Short: "List a group's member accounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var members []user.User
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/groups/"+url.PathEscape(args[0])+"/members", nil, &members); err != nil {
				return err
			}
			return a.emit(members, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "USERNAME\tEMAIL")
				for _, m := range members {
					fmt.Fprintf(tw, "%s\t%s\n", m.Username, m.Email)
				}
				tw.Flush()
			})
		},
	}
}
