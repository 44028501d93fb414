// Command adminctl talks to an admin dashboard API from the terminal. Credentials
// are kept between runs in a per-server file or SQLite database.
//
//	adminctl login --email ops@example.com
//	adminctl get /api/admin/stats
//	adminctl post /api/admin/notes '{"text":"hello"}'
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/panyam/adminauth/client"
	fsstore "github.com/panyam/adminauth/client/stores/fs"
	sqlitestore "github.com/panyam/adminauth/client/stores/sqlite"
)

type globalOptions struct {
	Server       string `short:"s" long:"server" env:"ADMIN_API_BASE_URL" description:"admin API base URL"`
	Store        string `long:"store" env:"ADMINCTL_STORE" default:"fs" choice:"fs" choice:"sqlite" description:"credential store"`
	StorePath    string `long:"store-path" env:"ADMINCTL_STORE_PATH" description:"credential file or database (default under the user config dir)"`
	RememberDays int    `long:"remember-days" default:"30" description:"days a remembered login is kept"`
	LogLevel     string `long:"log-level" env:"ADMINCTL_LOG_LEVEL" default:"warn" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
}

var (
	globals globalOptions

	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run parses args, executes the chosen command and returns the exit code
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	globals = globalOptions{}
	stdin, stdout, stderr = in, out, errOut

	parser := flags.NewParser(&globals, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(globals.LogLevel)})))
		return cmd.Execute(args)
	}
	addCommands(parser)

	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) {
			if ferr.Type == flags.ErrHelp {
				fmt.Fprintln(stdout, ferr.Message)
				return 0
			}
			fmt.Fprintln(stderr, ferr.Message)
			return 2
		}
		fmt.Fprintln(stderr, "error:", describe(err))
		return 1
	}
	return 0
}

// session bundles the client with its credential store for one command
type session struct {
	client *client.Client
	close  func()
}

func openSession() (*session, error) {
	server := globals.Server
	if server == "" {
		server = client.DefaultBaseURL()
	}

	var store client.CredentialStore
	closeFn := func() {}
	switch globals.Store {
	case "sqlite":
		path := globals.StorePath
		if path == "" {
			dir, err := configDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "credentials.db")
		}
		s, err := sqlitestore.NewSQLiteCredentialStore(path, server)
		if err != nil {
			return nil, err
		}
		if _, err := s.Prune(); err != nil {
			slog.Debug("credential prune failed", "error", err)
		}
		store = s
		closeFn = func() { s.Close() }
	default:
		s, err := fsstore.NewFSCredentialStore(globals.StorePath, "adminctl", server)
		if err != nil {
			return nil, err
		}
		store = s
	}

	// The CSRF token is bound to a server session cookie that does not outlive
	// this process, so every run starts without one
	if err := store.RemoveCredential(client.DefaultCSRFHeaderName); err != nil {
		slog.Debug("failed to drop stale CSRF token", "error", err)
	}

	c := client.NewClient(server, store,
		client.WithRememberDays(globals.RememberDays),
		client.WithNavigator(terminalNavigator{w: stderr}),
		client.WithLogger(slog.Default()),
	)
	return &session{client: c, close: closeFn}, nil
}

func configDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	dir = filepath.Join(dir, "adminctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// terminalNavigator stands in for a browser: it has no current page, and a
// redirect to the login page becomes a hint on w
type terminalNavigator struct {
	w io.Writer
}

func (terminalNavigator) CurrentPath() string { return "" }

func (n terminalNavigator) Redirect(path string) {
	fmt.Fprintln(n.w, "session expired; run `adminctl login` to sign in again")
}

// describe renders a request error with its status the way the API reported it
func describe(err error) string {
	if reqErr, ok := client.AsRequestError(err); ok && reqErr.Status != 0 {
		return fmt.Sprintf("%s (HTTP %d)", reqErr.Message, reqErr.Status)
	}
	return err.Error()
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelWarn
	}
	return l
}
