// Command proxystub serves fixture data in the shape of the console backend
// proxy for local development against consolectl.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consolecore/internal/observability"
	"consolecore/internal/proxystub"
)

var (
	exitFunc  = os.Exit
	notifyCtx = defaultNotify
)

func defaultNotify(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("proxystub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fixtures := fs.String("fixtures", "", "path to the YAML fixtures file")
	addr := fs.String("addr", "127.0.0.1:8080", "listen address")
	level := fs.String("log-level", "info", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *fixtures == "" {
		_, _ = fmt.Fprintln(stderr, "-fixtures is required")
		return 2
	}
	f, err := proxystub.LoadFixtures(*fixtures)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	logger := observability.NewLogger(*level, stderr)
	stub := proxystub.New(f, proxystub.WithLogger(logger))
	_, _ = fmt.Fprintf(stdout, "proxystub listening on http://%s\n", ln.Addr())

	ctx, stop := notifyCtx(context.Background())
	defer stop()
	if err := serve(ctx, ln, stub.Handler()); err != nil {
		logger.Error("serve failed", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
