package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/roach88/fellowship/internal/metrics"
	"github.com/roach88/fellowship/internal/remote"
	"github.com/roach88/fellowship/internal/remote/realtime"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a realtime hub over an in-memory store",
		Long: `Run a development realtime hub.

The hub keeps groups, messages, discussions and comments in memory and
serves them over a websocket at /ws. A group's messages can be read as
JSON at /api/groups/{id}/messages. Prometheus metrics are exposed at
/metrics. When --token (or remote.token) is set, clients must present it
as a bearer token.

Examples:
  fellowship serve
  fellowship serve --listen 127.0.0.1:9000 --token s3cret`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default serve.listen)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.Settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "load settings", err)
	}
	addr := opts.Listen
	if addr == "" {
		addr = cfg.Serve.Listen
	}

	store := remote.NewMemoryStore()
	defer store.Close()
	hub := realtime.NewHub(store, realtime.WithToken(cfg.Remote.Token))
	defer hub.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen "+addr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := opts.formatter(cmd)
	if err := f.Success(fmt.Sprintf("✓ hub listening on ws://%s/ws", ln.Addr()), map[string]string{"addr": ln.Addr().String()}); err != nil {
		ln.Close()
		return err
	}
	return serveUntilDone(ctx, &http.Server{Handler: newHubRouter(hub, store), ReadHeaderTimeout: 10 * time.Second}, ln)
}

// newHubRouter routes the hub, a read-only message API, metrics and a
// liveness check.
func newHubRouter(hub http.Handler, store remote.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/ws", hub)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/groups/{groupID}/messages", handleGroupMessages(store))
	})
	return r
}

// handleGroupMessages answers with the current message snapshot of a
// group in server order.
func handleGroupMessages(store remote.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupID")
		q := remote.Collection(remote.MessagesCollection(groupID)).OrderedBy("createdAt", remote.Asc)
		snap, err := store.Query(r.Context(), q)
		if err != nil {
			slog.Warn("message query failed", "group", groupID, "request_id", middleware.GetReqID(r.Context()), "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			slog.Debug("write response", "error", err)
		}
	}
}

// serveUntilDone serves on ln until ctx ends, then shuts down gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "addr", ln.Addr().String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveMetrics exposes /metrics on addr in the background. An empty addr
// does nothing. The returned func stops the listener.
func serveMetrics(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	slog.Debug("metrics listening", "addr", ln.Addr().String())
	return func() { srv.Close() }, nil
}
