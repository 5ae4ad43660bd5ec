package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/netsblox/cloud/internal/library"
)

func (a *cli) librariesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libraries",
		Short: "Manage block libraries",
	}
	cmd.AddCommand(
		a.librariesCommunityCmd(),
		a.librariesPendingCmd(),
		a.librariesListCmd(),
		a.librariesGetCmd(),
		a.librariesSaveCmd(),
		a.librariesDeleteCmd(),
		a.librariesPublishCmd(),
		a.librariesUnpublishCmd(),
		a.librariesApproveCmd(),
	)
	return cmd
}

func printLibraryTable(w io.Writer, libs []library.Library) {
	tw := newTable(w)
	fmt.Fprintln(tw, "OWNER\tNAME\tSTATE\tNOTES")
	for _, l := range libs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Owner, l.Name, l.State, l.Notes)
	}
	tw.Flush()
}

func libraryPath(owner, name string) string {
	return "/libraries/user/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func (a *cli) librariesCommunityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "community",
		Short: "List approved public libraries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var libs []library.Library
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/libraries/community", nil, &libs); err != nil {
				return err
			}
			return a.emit(libs, func(w io.Writer) { printLibraryTable(w, libs) })
		},
	}
}

func (a *cli) librariesPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List libraries awaiting moderation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var libs []library.Library
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/libraries/community/pending", nil, &libs); err != nil {
				return err
			}
			return a.emit(libs, func(w io.Writer) { printLibraryTable(w, libs) })
		},
	}
}

func (a *cli) librariesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list USER",
		Short: "List a user's libraries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var libs []library.Library
			if err := a.client().do(cmd.Context(), http.MethodGet,
				"/libraries/user/"+url.PathEscape(args[0]), nil, &libs); err != nil {
				return err
			}
			return a.emit(libs, func(w io.Writer) { printLibraryTable(w, libs) })
		},
	}
}

func (a *cli) librariesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get USER NAME",
		Short: "Print a library's block XML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lib library.Library
			if err := a.client().do(cmd.Context(), http.MethodGet,
				libraryPath(args[0], args[1]), nil, &lib); err != nil {
				return err
			}
			return a.emit(lib, func(w io.Writer) {
				fmt.Fprintln(w, lib.Blocks)
			})
		},
	}
}

func (a *cli) librariesSaveCmd() *cobra.Command {
	var blocksFile, notes string
	cmd := &cobra.Command{
		Use:   "save USER NAME",
		Short: "Create or replace a library from a block XML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks, err := os.ReadFile(blocksFile)
			if err != nil {
				return fmt.Errorf("read blocks file: %w", err)
			}
			var lib library.Library
			if err := a.client().do(cmd.Context(), http.MethodPost,
				libraryPath(args[0], args[1]),
				map[string]string{"notes": notes, "blocks": string(blocks)}, &lib); err != nil {
				return err
			}
			return a.emit(lib, func(w io.Writer) {
				fmt.Fprintf(w, "Saved %s/%s (%s)\n", lib.Owner, lib.Name, lib.State)
			})
		},
	}
	cmd.Flags().StringVar(&blocksFile, "blocks", "", "path to the block XML file")
	cmd.Flags().StringVar(&notes, "notes", "", "description shown in listings")
	_ = cmd.MarkFlagRequired("blocks")
	return cmd
}

func (a *cli) librariesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete USER NAME",
		Short: "Delete a library",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodDelete,
				libraryPath(args[0], args[1]), nil, nil); err != nil {
				return err
			}
			fmt.Printf("Deleted %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func (a *cli) librariesPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish USER NAME",
		Short: "Publish a library (flagged content waits for moderation)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				State library.State `json:"state"`
			}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				libraryPath(args[0], args[1])+"/publish", nil, &result); err != nil {
				return err
			}
			return a.emit(result, func(w io.Writer) {
				fmt.Fprintf(w, "%s/%s is now %s\n", args[0], args[1], result.State)
			})
		},
	}
}

func (a *cli) librariesUnpublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish USER NAME",
		Short: "Withdraw a library from the gallery",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().do(cmd.Context(), http.MethodPost,
				libraryPath(args[0], args[1])+"/unpublish", nil, nil); err != nil {
				return err
			}
			fmt.Printf("%s/%s is now private\n", args[0], args[1])
			return nil
		},
	}
}

func (a *cli) librariesApproveCmd() *cobra.Command {
	var reject bool
	cmd := &cobra.Command{
		Use:   "approve USER NAME",
		Short: "Resolve a pending library (moderators only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]bool{"approve": !reject}
			if err := a.client().do(cmd.Context(), http.MethodPost,
				"/libraries/community/"+url.PathEscape(args[0])+"/"+url.PathEscape(args[1])+"/approve",
				body, nil); err != nil {
				return err
			}
			if reject {
				fmt.Printf("Rejected %s/%s\n", args[0], args[1])
			} else {
				fmt.Printf("Approved %s/%s\n", args[0], args[1])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "send the library back to private")
	return cmd
}
