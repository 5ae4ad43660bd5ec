package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/friend"
)

func (a *cli) friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage friend links",
	}
	cmd.AddCommand(
		a.friendsListCmd(),
		a.friendsOnlineCmd(),
		a.friendsInvitesCmd(),
		a.friendsInviteCmd(),
		a.friendsRespondCmd(),
		a.friendsBlockCmd(),
		a.friendsUnblockCmd(),
		a.friendsRemoveCmd(),
	)
	return cmd
}

func (a *cli) friendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list USER",
		Short: "List a user's friends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/friends/"+url.PathEscape(args[0]), nil, &names); err != nil {
				return err
			}
			return a.emit(names, func(w io.Writer) {
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
			})
		},
	}
}

func (a *cli) friendsOnlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online USER",
		Short: "List a user's friends that are connected right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var names []string
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/friends/"+url.PathEscape(args[0])+"/online", nil, &names); err != nil {
				return err
			}
			return a.emit(names, func(w io.Writer) {
				for _, n := range names {
					fmt.Fprintln(w, n)
				}
			})
		},
	}
}

func (a *cli) friendsInvitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invites USER",
		Short: "List pending friend invites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var invites []friend.Link
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/friends/"+url.PathEscape(args[0])+"/invites", nil, &invites); err != nil {
				return err
			}
			return a.emit(invites, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "FROM\tSENT")
				for _, inv := range invites {
					fmt.Fprintf(tw, "%s\t%s\n", inv.Sender, inv.CreatedAt.Format("2006-01-02 15:04"))
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) friendsInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite USER OTHER",
		Short: "Send a friend invite from USER to OTHER",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Outcome string `json:"outcome"`
			}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/friends/"+url.PathEscape(args[0])+"/invite/"+url.PathEscape(args[1]),
				nil, &result); err != nil {
				return err
			}
			return a.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "Invite %s\n", result.Outcome)
			})
		},
	}
}

func (a *cli) friendsRespondCmd() *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "respond USER SENDER",
		Short: "Answer a pending invite (accepts unless --reject)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			response := "accept"
			if reject {
				response = "reject"
			}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/friends/"+url.PathEscape(args[0])+"/respond/"+url.PathEscape(args[1]),
				map[string]string{"response": response}, nil); err != nil {
				return err
			}
			fmt.Printf("Invite from %s %sed\n", args[1], response)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the invite")
	return cmd
}

func (a *cli) friendsBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block USER OTHER",
		Short: "Block invites from another user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/friends/"+url.PathEscape(args[0])+"/block/"+url.PathEscape(args[1]),
				nil, nil); err != nil {
				return err
			}
			fmt.Printf("Blocked %s\n", args[1])
			return nil
		},
	}
}

func (a *cli) friendsUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock USER OTHER",
		Short: "Lift a block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/friends/"+url.PathEscape(args[0])+"/unblock/"+url.PathEscape(args[1]),
				nil, nil); err != nil {
				return err
			}
			fmt.Printf("Unblocked %s\n", args[1])
			return nil
		},
	}
}

func (a *cli) friendsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove USER OTHER",
		Short: "Remove a friend link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete,
				"/friends/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1]),
				nil, nil); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[1])
			return nil
		},
	}
}
