package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/user"
)

func (a *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts",
	}
	cmd.AddCommand(
		a.usersCreateCmd(),
		a.usersLoginCmd(),
		a.usersLogoutCmd(),
		a.usersWhoAmICmd(),
		a.usersGetCmd(),
		a.usersListCmd(),
		a.usersDeleteCmd(),
		a.usersSetPasswordCmd(),
		a.usersBanCmd(),
		a.usersUnbanCmd(),
	)
	return cmd
}

func (a *cli) usersCreateCmd() *cobra.Command {
	var password, role, groupID string
	cmd := &cobra.Command{
		Use:   "create USERNAME EMAIL",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("NETSBLOX_PASSWORD")
			}
			body := map[string]any{
				"username": args[0],
				"email":    args[1],
				"password": password,
			}
			if role != "" {
				body["role"] = role
			}
			if groupID != "" {
				body["groupId"] = groupID
			}
			var created user.User
			if err := a.client().do(cmd.Context(), http.MethodPost, "/users/create", body, &created); err != nil {
				return err
			}
			return a.emit(created, func(w io.Writer) {
				fmt.Fprintf(w, "Created account %s (%s)\n", created.Username, created.Role)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (or NETSBLOX_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", "", "account role (admin only)")
	cmd.Flags().StringVar(&groupID, "group", "", "group to place the account in")
	return cmd
}

func (a *cli) usersLoginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Log in and save the session for later invocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("NETSBLOX_PASSWORD")
			}
			token, err := a.client().login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if err := saveSession(token); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Printf("Logged in as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (or NETSBLOX_PASSWORD)")
	return cmd
}

func (a *cli) usersLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = a.client().do(cmd.Context(), http.MethodPost, "/users/logout", nil, nil)
			if err := clearSession(); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func (a *cli) usersWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var me struct {
				Username string `json:"username"`
				Role     string `json:"role"`
			}
			if err := a.client().do(cmd.Context(), http.MethodGet, "/users/whoami", nil, &me); err != nil {
				return err
			}
			return a.emit(me, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%s)\n", me.Username, me.Role)
			})
		},
	}
}

func (a *cli) usersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get USERNAME",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u user.User
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/users/"+url.PathEscape(args[0]), nil, &u); err != nil {
				return err
			}
			return a.emit(u, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintf(tw, "Username:\t%s\n", u.Username)
				fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
				fmt.Fprintf(tw, "Role:\t%s\n", u.Role)
				if u.GroupID != nil {
					fmt.Fprintf(tw, "Group:\t%s\n", *u.GroupID)
				}
				fmt.Fprintf(tw, "Created:\t%s\n", u.CreatedAt.Format("2006-01-02"))
				tw.Flush()
			})
		},
	}
}

func (a *cli) usersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every account (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var users []user.User
			if err := a.client().do(cmd.Context(), http.MethodGet, "/users", nil, &users); err != nil {
				return err
			}
			return a.emit(users, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "USERNAME\tEMAIL\tROLE")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, u.Email, u.Role)
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) usersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/users/"+url.PathEscape(args[0])+"/delete", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *cli) usersSetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-password USERNAME PASSWORD",
		Short: "Change an account password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"password": args[1]}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/users/"+url.PathEscape(args[0])+"/password", body, nil); err != nil {
				return err
			}
			fmt.Printf("Password changed for %s\n", args[0])
			return nil
		},
	}
}

func (a *cli) usersBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban USERNAME",
		Short: "Ban an account (the name stays reserved)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var banned user.BannedAccount
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/users/"+url.PathEscape(args[0])+"/ban", nil, &banned); err != nil {
				return err
			}
			return a.emit(banned, func(w io.Writer) {
				fmt.Fprintf(w, "Banned %s at %s\n", banned.Username,
					banned.BannedAt.Format("2006-01-02 15:04"))
			})
		},
	}
}

func (a *cli) usersUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban USERNAME",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/users/"+url.PathEscape(args[0])+"/unban", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Unbanned %s\n", args[0])
			return nil
		},
	}
}
