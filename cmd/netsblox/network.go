package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/network"
)

func (a *cli) networkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Inspect and drive the realtime overlay",
	}
	cmd.AddCommand(
		a.networkListCmd(),
		a.networkRoomCmd(),
		a.networkStateCmd(),
		a.networkEvictCmd(),
		a.networkSendCmd(),
	)
	return cmd
}

func (a *cli) networkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected external clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var clients []network.ExternalClient
			if err := a.client().do(cmd.Context(), http.MethodGet, "/network", nil, &clients); err != nil {
				return err
			}
			return a.emit(clients, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintln(tw, "ADDRESS\tAPP\tUSERNAME")
				for _, c := range clients {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Address, c.AppID, c.Username)
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) networkRoomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room PROJECT_ID",
		Short: "Show a project's live occupancy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var room network.RoomState
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/network/id/"+url.PathEscape(args[0]), nil, &room); err != nil {
				return err
			}
			return a.emit(room, func(w io.Writer) {
				tw := newTable(w)
				fmt.Fprintf(tw, "Project:\t%s (%s)\n", room.Name, room.ID)
				fmt.Fprintf(tw, "Owner:\t%s\n", room.Owner)
				for _, role := range room.Roles {
					occupants := ""
					for i, occ := range role.Occupants {
						if i > 0 {
							occupants += ", "
						}
						if occ.Name != "" {
							occupants += occ.Name
						} else {
							occupants += occ.ID
						}
					}
					fmt.Fprintf(tw, "Role %s:\t%s\n", role.Name, occupants)
				}
				tw.Flush()
			})
		},
	}
}

func (a *cli) networkStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state CLIENT_ID",
		Short: "Show one client's declared state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var state json.RawMessage
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/network/"+url.PathEscape(args[0])+"/state", nil, &state); err != nil {
				return err
			}
			return a.emitJSON(state)
		},
	}
}

func (a *cli) networkEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict CLIENT_ID",
		Short: "Force a client out of its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/network/clients/"+url.PathEscape(args[0])+"/evict", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Evicted %s\n", args[0])
			return nil
		},
	}
}

func (a *cli) networkSendCmd() *cobra.Command {
	var sender, msgType, content string
	var addresses []string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send an overlay message to one or more addresses",
		Long: `Send an overlay message. Addresses use the role@project@owner form,
optionally followed by #app for an application tag:

  netsblox network send --from alice --to role1@game@alice --type chat --content '{"text":"hi"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var raw json.RawMessage
			if content != "" {
				if err := json.Unmarshal([]byte(content), &raw); err != nil {
					return fmt.Errorf("content must be valid JSON: %w", err)
				}
			}
			body := map[string]any{
				"sender":    sender,
				"addresses": addresses,
				"type":      msgType,
				"content":   raw,
			}
			var result struct {
				Recipients int `json:"recipients"`
			}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/network/messages", body, &result); err != nil {
				return err
			}
			return a.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "Delivered to %d recipient(s)\n", result.Recipients)
			})
		},
	}
	cmd.Flags().StringVar(&sender, "from", "", "sending username")
	cmd.Flags().StringSliceVar(&addresses, "to", nil, "target address (repeatable)")
	cmd.Flags().StringVar(&msgType, "type", "message", "message type")
	cmd.Flags().StringVar(&content, "content", "", "JSON message content")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
