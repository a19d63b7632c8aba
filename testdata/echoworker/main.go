// Command echoworker is a minimal worker binary for exercising the
// supervisor end to end: it accepts the shared listening socket on fd 3
// (os/exec's ExtraFiles convention), serves a trivial HTTP echo/health
// handler on it, announces readiness on stdout, and drains on the
// "shutdown" token read from stdin — grounded on One-com/gone/sd's
// testbin/sdtest.go accept-loop-plus-quit-channel shape.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

func main() {
	lf := os.NewFile(3, "listener")
	if lf == nil {
		fmt.Fprintln(os.Stderr, "echoworker: fd 3 not available")
		os.Exit(1)
	}
	ln, err := net.FileListener(lf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "echoworker: FileListener:", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "echo pid=%d\n", os.Getpid())
	})

	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "echoworker: serve:", err)
		}
	}()

	fmt.Fprintln(os.Stdout, "ready")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if scanner.Text() == "shutdown" {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
