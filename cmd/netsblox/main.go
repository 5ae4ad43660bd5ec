// Command netsblox is the command-line client for a NetsBlox cloud
// deployment. It speaks the same HTTP API the browser does; each verb maps
// onto one resource family.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "netsblox:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures onto the documented exit codes: 1 user error,
// 2 unauthorized, 3 not found, 4 cloud unreachable.
func exitCode(err error) int {
	var te *transportError
	if errors.As(err, &te) {
		return 4
	}
	var ae *apiError
	if errors.As(err, &ae) {
		switch ae.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return 2
		case http.StatusNotFound:
			return 3
		}
	}
	return 1
}

// cli carries the global flags shared by every subcommand.
type cli struct {
	cloud   string
	token   string
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	a := &cli{}
	root := &cobra.Command{
		Use:           "netsblox",
		Short:         "Manage a NetsBlox cloud deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cloud, "cloud",
		envOr("NETSBLOX_CLOUD", "http://localhost:7777"), "cloud server base URL")
	root.PersistentFlags().StringVar(&a.token, "token", "",
		"session token (defaults to NETSBLOX_TOKEN, then the saved session)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false,
		"print raw JSON instead of tables")

	root.AddCommand(
		a.usersCmd(),
		a.projectsCmd(),
		a.friendsCmd(),
		a.groupsCmd(),
		a.librariesCmd(),
		a.servicesCmd(),
		a.networkCmd(),
	)
	return root
}

func (a *cli) client() *client {
	token := a.token
	if token == "" {
		token = os.Getenv("NETSBLOX_TOKEN")
	}
	if token == "" {
		token, _ = loadSession()
	}
	return newClient(a.cloud, token)
}

// emit prints data as indented JSON in --json mode, otherwise through the
// human renderer.
func (a *cli) emit(data any, human func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	human(os.Stdout)
	return nil
}

// emitJSON always prints JSON; used for responses with no natural table form.
func (a *cli) emitJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// The saved session lives in the user config directory so consecutive
// invocations stay logged in.
func sessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "netsblox", "session"), nil
}

func saveSession(token string) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

func loadSession() (string, error) {
	path, err := sessionPath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func clearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
