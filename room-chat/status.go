package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gosuda.org/portal/sdk"

	"github.com/gosuda/room-chat/session"
)

type statusSource interface {
	Snapshot() session.State
	InviteLink() string
}

// newStatusHandler exposes a read-only view of the session.
func newStatusHandler(src statusSource) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(src.Snapshot())
	})
	r.Get("/invite", func(w http.ResponseWriter, _ *http.Request) {
		if !src.Snapshot().Joined {
			http.Error(w, "not joined", http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, src.InviteLink())
	})
	return r
}

// serveStatus starts the optional local and relay listeners for handler and
// returns a function that stops them.
func serveStatus(ctx context.Context, handler http.Handler, port int, relayURLs []string, name string) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if len(relayURLs) > 0 {
		client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = relayURLs })
		if err != nil {
			return nil, fmt.Errorf("new relay client: %w", err)
		}
		cred := sdk.NewCredential()
		ln, err := client.Listen(cred, name, []string{"http/1.1"})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("relay listen: %w", err)
		}
		go func() {
			if err := http.Serve(ln, handler); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Msg("[room-chat] relay http error")
			}
		}()
		log.Info().Str("name", name).Msg("[room-chat] status published via relay")
		stops = append(stops, func() {
			_ = ln.Close()
			_ = client.Close()
		})
	}

	if port >= 0 {
		httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[room-chat] status at http://127.0.0.1:%d/state", port)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[room-chat] local http stopped")
			}
		}()
		stops = append(stops, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
				log.Warn().Err(err).Msg("[room-chat] local http shutdown error")
			}
		})
	}
	return stopAll, nil
}
