/*
Copyright © 2026 triviahost contributors
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/barquiz/triviahost/internal/dispatch"
	"github.com/barquiz/triviahost/internal/janitor"
	"github.com/barquiz/triviahost/internal/session"
	"github.com/barquiz/triviahost/internal/transport"
)

const timeout time.Duration = 10 * time.Second

// securityHeaders sets a minimal lockdown, narrowed to what
// a JSON API actually needs: no CSP/COEP/COOP theater for a
// surface that serves no HTML.
func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// corsHeaders restricts cross-origin access to the configured CLIENT_URL.
func corsHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", cfg.clientURL)
	w.Header().Set("Vary", "Origin")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveVersion(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("triviahost v" + releaseVersion + "\n"))
	}
}

// serveHealth backs GET /health: liveness plus the live game
// count.
func serveHealth(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"games":  registry.Count(),
		})
	}
}

type createGameRequest struct {
	HostName string `json:"hostName"`
}

type createGameResponse struct {
	GameID string `json:"gameId"`
	Pin    string `json:"pin"`
	HostID string `json:"hostId"`
}

// serveCreateGame backs POST /api/games/create: out-of-band game creation,
// independent of the websocket transport.
func serveCreateGame(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w)

		var req createGameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostName == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": session.ErrBadRequest.Error()})
			return
		}

		s, hostID, err := registry.Create(req.HostName)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		logf(cfg, "GAME: created %s via REST for host %q", s.PIN(), req.HostName)

		writeJSON(w, http.StatusOK, createGameResponse{GameID: s.ID(), Pin: s.PIN(), HostID: hostID})
	}
}

type sessionInfoResponse struct {
	Pin       string        `json:"pin"`
	State     session.State `json:"state"`
	Teams     int           `json:"teams"`
	Questions int           `json:"questions"`
}

// serveGameInfo backs GET /api/games/:pin: read-only
// introspection, 404 when the PIN is unknown.
func serveGameInfo(cfg *Config, registry *session.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)
		corsHeaders(cfg, w)

		s, err := registry.Lookup(p.ByName("pin"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, sessionInfoResponse{
			Pin:       s.PIN(),
			State:     s.State(),
			Teams:     s.TeamCount(),
			Questions: s.QuestionCount(),
		})
	}
}

// serveWS upgrades to the bidirectional transport, registers the
// connection with the router, and pumps inbound frames into the
// dispatcher. Disconnect (read pump exit, for any reason) runs the
// dispatcher's disconnect sweep before the connection is forgotten.
func serveWS(cfg *Config, upgrader websocket.Upgrader, router *transport.Router, d *dispatch.Dispatcher) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "DISPATCH: upgrade error: %v", err)
			return
		}

		connID := session.NewID()
		conn := transport.NewConn(connID, ws)
		conn.ConfigureKeepalive(transport.PongWait)
		router.Register(conn)

		go conn.WritePump()

		conn.ReadPump(func(msg transport.Inbound) {
			d.Handle(connID, msg)
		})

		d.Disconnect(connID)
	}
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: triviahost v%s", releaseVersion)

	registry := session.NewRegistry()
	router := transport.NewRouter()
	d := dispatch.New(registry, router, func(format string, args ...any) { logf(cfg, format, args...) })
	upgrader := transport.NewUpgrader(cfg.clientURL)

	j := janitor.New(registry, cfg.janitorInterval, func(format string, args ...any) { logf(cfg, format, args...) })
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go j.Run(janitorCtx)

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		securityHeaders(cfg, w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	mux.GET("/health", serveHealth(cfg, registry))
	mux.POST("/api/games/create", serveCreateGame(cfg, registry))
	mux.GET("/api/games/:pin", serveGameInfo(cfg, registry))
	mux.GET("/version", serveVersion(cfg))
	mux.GET("/ws", serveWS(cfg, upgrader, router, d))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	go func() {
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			logf(cfg, "SERVE: Listening on %s://%s/", cfg.scheme(), srv.Addr)
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			logf(cfg, "SERVE: Listening on %s://%s/", cfg.scheme(), srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
