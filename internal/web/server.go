// Package web serves the Memora UI: home with persona cards, the creation
// wizard, and the chat view, rendered server-side with htmx partial swaps.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/status"
	"github.com/memorahq/memora/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates and configures the HTTP server for the Memora web UI.
func NewServer(client *api.Client, cache *store.Cache, tokens auth.TokenSource, cfg *config.Config, version, bind string, port int) *http.Server {
	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatalf("failed to create static sub-FS: %v", err)
	}

	renderer := NewRenderer(templateSub, cfg.LoginURL, version)

	h := &Handlers{
		client:   client,
		cache:    cache,
		tokens:   tokens,
		cfg:      cfg,
		renderer: renderer,
	}
	h.poller = status.NewPoller(cfg.PollInterval(), h.refreshForPoll)

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", h.HandleHome)
	mux.HandleFunc("GET /create", h.HandleCreate)
	mux.HandleFunc("POST /create/basic-info", h.HandleCreateBasic)
	mux.HandleFunc("POST /create/{id}/video", h.HandleCreateVideo)
	mux.HandleFunc("POST /create/{id}/social", h.HandleCreateSocial)
	mux.HandleFunc("GET /memora/{id}", h.HandleChat)
	mux.HandleFunc("POST /memora/{id}/messages", h.HandleSend)
	mux.HandleFunc("POST /memora/{id}/retry", h.HandleRetry)
	mux.HandleFunc("GET /memora/{id}/share/search", h.HandleUserSearch)
	mux.HandleFunc("GET /messages/{msgID}/audio", h.HandleAudio)
	mux.HandleFunc("GET /messages/{msgID}/video", h.HandleVideo)

	// Static file server
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	// Wrap with request ids and security headers
	handler := requestID(securityHeaders(mux))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
	srv.RegisterOnShutdown(h.poller.Stop)
	return srv
}

// requestID tags every response with an id for log correlation, honoring one
// supplied by a proxy.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
// htmx is loaded from unpkg, so script-src allows it.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' https://unpkg.com; style-src 'self'; media-src 'self' https:; img-src 'self' data:")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("Memora UI running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
