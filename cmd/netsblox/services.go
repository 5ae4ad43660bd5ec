package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/servicehost"
)

func (a *cli) servicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage services hosts",
	}
	cmd.AddCommand(
		a.servicesAuthorizedCmd(),
		a.servicesHostsCmd(),
		a.servicesSetHostsCmd(),
	)
	return cmd
}

func (a *cli) servicesAuthorizedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authorized",
		Short: "Manage deployment-wide authorized hosts (admin only)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List authorized hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var hosts []servicehost.AuthorizedHost
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/services/hosts/authorized", nil, &hosts); err != nil {
				return err
			}
			return a.emit(hosts, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "ID\tURL\tVISIBILITY")
				for _, h := range hosts {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", h.ID, h.URL, h.Visibility)
				}
				tw.Flush()
			})
		},
	})

	var public bool
	add := &cobra.Command{
		Use:   "add URL",
		Short: "Authorize a services host and print its minted secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"url": args[0]}
			if public {
				body["visibility"] = string(servicehost.VisibilityPublic)
			}
			var minted struct {
				ID     string `json:"id"`
				Secret string `json:"secret"`
			}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/services/hosts/authorized", body, &minted); err != nil {
				return err
			}
			return a.emit(minted, func(w io.Writer) {
				fmt.Fprintf(w, "ID:     %s\n", minted.ID)
				// Shown exactly once; the server stores the secret
				// without echoing it again.
				fmt.Fprintf(w, "Secret: %s\n", minted.Secret)
			})
		},
	}
	add.Flags().BoolVar(&public, "public", false, "offer the host to every client by default")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an authorized host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete,
				"/services/hosts/authorized/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("Revoked %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func (a *cli) servicesHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts USER",
		Short: "Show the merged services hosts a user's client would load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hosts []servicehost.Host
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/services/hosts/all/"+url.PathEscape(args[0]), nil, &hosts); err != nil {
				return err
			}
			return a.emit(hosts, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "URL\tCATEGORIES")
				for _, h := range hosts {
					fmt.Fprintf(tw, "%s\t%s\n", h.URL, strings.Join(h.Categories, ","))
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) servicesSetHostsCmd() *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "set-hosts USER [JSON]",
		Short: "Replace a user's (or group's) services hosts from a JSON array",
		Long: `Replace the services hosts attached to a user, or with --group to a
group. The host list is a JSON array, read from the argument or stdin:

  netsblox services set-hosts alice '[{"url":"https://svc.example.com"}]'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte{}
			if len(args) == 2 {
				raw = []byte(args[1])
			} else {
				var err error
				if raw, err = io.ReadAll(os.Stdin); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			var hosts []servicehost.Host
			if err := json.Unmarshal(raw, &hosts); err != nil {
				return fmt.Errorf("parse host list: %w", err)
			}

			path := "/services/hosts/user/" + url.PathEscape(args[0])
			if groupID != "" {
				path = "/services/hosts/group/" + url.PathEscape(groupID)
			}
			if err := a.client().do(cmd.Context(), http.MethodPost, path, hosts, nil); err != nil {
				return err
			}
			fmt.Printf("Set %d host(s)\n", len(hosts))
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "set the hosts on this group instead of the user")
	return cmd
}
