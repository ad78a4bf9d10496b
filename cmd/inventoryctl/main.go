// Command inventoryctl drives the inventory auth API through the session gateway.
//
//	inventoryctl login -identifier clerk -secret s3cret
//	inventoryctl call -path /api/v1/inventory/summary -n 5 -parallel 2
//	inventoryctl logout
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arklim/inventory-auth/internal/infra/logger"
	"github.com/arklim/inventory-auth/pkg/gateway"
)

type globalFlags struct {
	baseURL        string
	sessionFile    string
	refreshTimeout time.Duration
	refreshRetries int
	env            string
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "login":
		err = runLogin(ctx, args)
	case "call":
		err = runCall(ctx, args)
	case "logout":
		err = runLogout(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "inventoryctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: inventoryctl <login|call|logout> [flags]")
}

func bindGlobal(fs *flag.FlagSet) *globalFlags {
	home, _ := os.UserHomeDir()
	g := &globalFlags{}
	fs.StringVar(&g.baseURL, "url", envOr("INVENTORY_AUTH_URL", "http://localhost:8080"), "auth API base URL")
	fs.StringVar(&g.sessionFile, "session", filepath.Join(home, ".inventoryctl", "session.json"), "session file")
	fs.DurationVar(&g.refreshTimeout, "refresh-timeout", gateway.DefaultRefreshTimeout, "timeout per refresh attempt")
	fs.IntVar(&g.refreshRetries, "refresh-retries", gateway.DefaultRefreshRetries, "refresh retries when the issuer could not be reached")
	fs.StringVar(&g.env, "env", envOr("INVENTORY_AUTH_APP_ENV", "development"), "logger environment")
	return g
}

func (g *globalFlags) open() (*gateway.Gateway, *zap.Logger, error) {
	log, err := logger.New(g.env)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	gw := gateway.New(
		gateway.NewIssuerClient(g.baseURL, httpClient),
		gateway.NewFileSessionStore(g.sessionFile),
		gateway.WithHTTPClient(httpClient),
		gateway.WithLogger(log),
		gateway.WithRefreshTimeout(g.refreshTimeout),
		gateway.WithRefreshRetries(g.refreshRetries),
		gateway.WithSessionEndedHook(func(reason error) {
			log.Warn("session ended, run inventoryctl login again", zap.Error(reason))
		}),
	)
	return gw, log, nil
}

func runLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	global := bindGlobal(fs)
	identifier := fs.String("identifier", "", "username or email")
	secret := fs.String("secret", os.Getenv("INVENTORY_AUTH_SECRET"), "login secret")
	_ = fs.Parse(args)

	if *identifier == "" || *secret == "" {
		return fmt.Errorf("-identifier and -secret are required")
	}

	gw, log, err := global.open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer gw.Close()

	if err := gw.Login(ctx, *identifier, *secret); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	log.Info("logged in", zap.String("identifier", logger.MaskIdentifier(*identifier)), zap.String("session_file", global.sessionFile))
	return nil
}

func runCall(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	global := bindGlobal(fs)
	path := fs.String("path", "/api/v1/inventory/summary", "resource path")
	count := fs.Int("n", 1, "number of calls")
	parallel := fs.Int("parallel", 4, "maximum calls in flight")
	_ = fs.Parse(args)

	gw, log, err := global.open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer gw.Close()

	restored, err := gw.Restore(ctx)
	if err != nil {
		return err
	}
	if !restored {
		log.Info("no stored session, calling without credentials")
	}

	results, err := runCalls(ctx, gw, global.baseURL+*path, *count, *parallel)
	for i, r := range results {
		if r.err != nil {
			fmt.Printf("#%d error: %v\n", i, r.err)
			continue
		}
		fmt.Printf("#%d %d %s\n", i, r.status, r.body)
	}
	log.Info("calls finished", zap.Int("total", len(results)), zap.String("state", gw.State().String()), zap.Error(err))
	return err
}

type callResult struct {
	status int
	body   string
	err    error
}

// runCalls issues count GETs through gw with at most parallel in flight.
// Every call runs to completion; the returned error is the first failure.
func runCalls(ctx context.Context, gw *gateway.Gateway, url string, count, parallel int) ([]callResult, error) {
	results := make([]callResult, max(count, 1))

	var group errgroup.Group
	group.SetLimit(max(parallel, 1))
	for i := range results {
		group.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				results[i].err = err
				return fmt.Errorf("call #%d: %w", i, err)
			}
			resp, err := gw.Do(req)
			if err != nil {
				results[i].err = err
				return fmt.Errorf("call #%d: %w", i, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			results[i] = callResult{status: resp.StatusCode, body: string(body)}
			return nil
		})
	}
	return results, group.Wait()
}

func runLogout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	global := bindGlobal(fs)
	_ = fs.Parse(args)

	gw, log, err := global.open()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer gw.Close()

	if _, err := gw.Restore(ctx); err != nil {
		return err
	}
	if err := gw.Logout(ctx); err != nil {
		log.Warn("issuer logout failed, local session cleared", zap.Error(err))
	}
	log.Info("logged out")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
