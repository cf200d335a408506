package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

// Options wires the HTTP surface to the rest of the application.
type Options struct {
	Controls    Controls
	Diagnostics Diagnostics
	// Metrics, when set, is served at /metrics.
	Metrics  http.Handler
	Warnings func() []string
	Logger   *slog.Logger
}

func Handler(staticFS fs.FS, hub *Hub, opts Options) (http.Handler, error) {
	if opts.Controls == nil {
		return nil, errors.New("server: controls are required")
	}
	if hub == nil {
		return nil, errors.New("server: hub is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()

	registerWSRoute(mux, hub, opts.Controls, opts.Logger)
	registerAPIRoutes(mux, opts)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", serveSPA(staticFS, fileServer))

	// Control requests from other sites are refused with 403 so that a
	// page the user happens to visit cannot switch the microphone on.
	return http.NewCrossOriginProtection().Handler(mux), nil
}

func serveSPA(staticFS fs.FS, fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" || r.URL.Path == "/metrics" {
			http.NotFound(w, r)
			return
		}

		if r.URL.Path == "/manifest.json" || r.URL.Path == "/manifest.webmanifest" {
			w.Header().Set("Content-Type", "application/manifest+json")
		}
		if r.URL.Path == "/sw.js" {
			w.Header().Set("Service-Worker-Allowed", "/")
			w.Header().Set("Cache-Control", "no-cache")
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			http.ServeFileFS(w, r, staticFS, "index.html")
			return
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
