package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/panyam/adminauth/client"
	fsstore "github.com/panyam/adminauth/client/stores/fs"
	authgrpc "github.com/panyam/adminauth/grpc"
)

func addCommands(parser *flags.Parser) {
	parser.AddCommand("login", "Sign in", "Sign in with email and password and store the tokens.", &loginCommand{})
	parser.AddCommand("logout", "Sign out", "Revoke the refresh token and clear stored credentials.", &logoutCommand{})
	parser.AddCommand("whoami", "Show the signed in admin", "Fetch the profile of the signed in admin.", &whoamiCommand{})
	parser.AddCommand("refresh", "Refresh the access token", "Exchange the stored refresh token for a new access token.", &refreshCommand{})
	parser.AddCommand("csrf", "Fetch a CSRF token", "Fetch (or reuse) the CSRF token for unsafe requests.", &csrfCommand{})
	parser.AddCommand("watch", "Watch stored credentials", "Print a line whenever another process changes the credential file.", &watchCommand{})
	parser.AddCommand("health", "Check the gRPC endpoint", "Call the gRPC health service with the stored access token.", &healthCommand{})
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		parser.AddCommand(strings.ToLower(method), method+" an API path", method+" <path> [json body]", &requestCommand{method: method})
	}
}

func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

type loginCommand struct {
	Email    string `short:"e" long:"email" env:"ADMINCTL_EMAIL" required:"true" description:"admin email"`
	Password string `short:"p" long:"password" env:"ADMINCTL_PASSWORD" description:"password (read from stdin when empty)"`
	Remember bool   `short:"r" long:"remember" description:"keep the session across restarts"`
}

func (cmd *loginCommand) Execute(args []string) error {
	password := cmd.Password
	if password == "" {
		fmt.Fprint(stderr, "Password: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return withSession(func(ctx context.Context, s *session) error {
		sess, err := s.client.Login(ctx, cmd.Email, password, cmd.Remember)
		if err != nil {
			return err
		}
		if sess.Admin != nil {
			fmt.Fprintf(stdout, "Signed in as %s (%s)\n", sess.Admin.Email, sess.Admin.ID)
		} else {
			fmt.Fprintln(stdout, "Signed in")
		}
		return nil
	})
}

type logoutCommand struct{}

func (cmd *logoutCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		if err := s.client.Logout(ctx); err != nil {
			fmt.Fprintln(stderr, "warning: server logout failed:", describe(err))
		}
		fmt.Fprintln(stdout, "Signed out")
		return nil
	})
}

type whoamiCommand struct {
	Path string `long:"path" default:"/api/admin/auth/me" description:"profile endpoint"`
}

func (cmd *whoamiCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		if !s.client.IsLoggedIn() {
			return fmt.Errorf("not signed in")
		}
		profile, err := s.client.Me(ctx, cmd.Path)
		if err != nil {
			return err
		}
		return printJSON(profile)
	})
}

type refreshCommand struct{}

func (cmd *refreshCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		token, ok := s.client.RefreshAccessToken(ctx)
		if !ok {
			return client.ErrNoRefreshToken
		}
		exp := "unknown"
		if tok, err := s.client.TokenSource(ctx).Token(); err == nil && !tok.Expiry.IsZero() {
			exp = tok.Expiry.Format(time.RFC3339)
		}
		fmt.Fprintf(stdout, "Access token refreshed (%d bytes, expires %s)\n", len(token), exp)
		return nil
	})
}

type csrfCommand struct{}

func (cmd *csrfCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		token := s.client.FetchCSRFTokenOnce(ctx)
		if token == nil {
			return fmt.Errorf("no CSRF token available")
		}
		fmt.Fprintf(stdout, "%s: %s\n", token.HeaderName, token.Token)
		return nil
	})
}

type watchCommand struct{}

func (cmd *watchCommand) Execute(args []string) error {
	if globals.Store != "fs" {
		return fmt.Errorf("watch requires the fs credential store")
	}
	return withSession(func(ctx context.Context, s *session) error {
		store, ok := s.client.Store().(*fsstore.FSCredentialStore)
		if !ok {
			return fmt.Errorf("watch requires the fs credential store")
		}
		fmt.Fprintf(stderr, "watching %s\n", store.Path())
		if err := store.Watch(ctx, func() {
			state := "signed out"
			if s.client.IsLoggedIn() {
				state = "signed in"
			}
			fmt.Fprintf(stdout, "%s credentials changed: %s\n", time.Now().Format(time.TimeOnly), state)
		}); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
}

type healthCommand struct {
	Addr    string `long:"grpc-addr" env:"ADMINAPI_GRPC_ADDR" default:"localhost:5001" description:"gRPC address"`
	Service string `long:"service" description:"service name to check"`
}

func (cmd *healthCommand) Execute(args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		conn, err := grpc.NewClient(cmd.Addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithUnaryInterceptor(authgrpc.UnaryClientInterceptor(s.client)),
			grpc.WithStreamInterceptor(authgrpc.StreamClientInterceptor(s.client)),
		)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: cmd.Service})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, resp.GetStatus().String())
		return nil
	})
}

type requestCommand struct {
	method string
	Query  []string `short:"q" long:"query" description:"query parameter as key=value (repeatable)"`
}

func (cmd *requestCommand) Execute(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s <path> [json body]", strings.ToLower(cmd.method))
	}
	path := args[0]

	opts := []client.RequestOption{}
	for _, q := range cmd.Query {
		key, value, _ := strings.Cut(q, "=")
		opts = append(opts, client.WithQuery(key, value))
	}
	if len(args) > 1 {
		var body any
		if err := json.Unmarshal([]byte(args[1]), &body); err != nil {
			return fmt.Errorf("body is not valid JSON: %w", err)
		}
		opts = append(opts, client.WithBody(body))
	}

	return withSession(func(ctx context.Context, s *session) error {
		resp, err := s.client.Request(ctx, cmd.method, path, opts...)
		if err != nil {
			return err
		}
		if len(resp.Body) == 0 {
			fmt.Fprintln(stdout, resp.Status)
			return nil
		}
		return printJSON(resp.Data())
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
