package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/morezero/process-watchers/pkg/dispatcher"
	"github.com/morezero/process-watchers/pkg/watcher"
)

// maxSetBody caps the value text accepted by PUT /watchers/<path>.
const maxSetBody = 64 << 10

// HealthOutput is the body of GET /health.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Peers     int          `json:"peers"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks lists the dependencies checked by /health. Database is nil when unused.
type HealthChecks struct {
	Comms    bool  `json:"comms"`
	Database *bool `json:"database,omitempty"`
}

func (s *Server) startHTTP() {
	httpAddr := s.cfg.HTTPAddr
	if httpAddr == "" {
		if s.cfg.HTTPPort == 0 {
			slog.Info(fmt.Sprintf("%s - HTTP disabled", logPrefix))
			return
		}
		httpAddr = fmt.Sprintf(":%d", s.cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/watchers/", s.handleWatchers())
	return mux
}

// Health checks the NATS connection and, when in use, the database.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	h.Checks.Comms = s.nc != nil && s.nc.IsConnected()
	if !h.Checks.Comms {
		h.Status = "unhealthy"
	}
	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	if s.directory != nil {
		h.Peers = s.directory.Len()
	}
	return h
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// handleWatchers serves /watchers/<path>: GET reads (a directory expands to its leaves),
// PUT and POST write the request body as the value text.
func (s *Server) handleWatchers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/watchers")
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		var resp *dispatcher.Response
		switch r.Method {
		case http.MethodGet:
			if s.admit() {
				resp = s.disp.Text(ctx, path)
			} else {
				resp = dispatcher.Rejected(path, dispatcher.ErrRateLimited)
			}
		case http.MethodPut, http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSetBody))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if s.admit() {
				resp = s.disp.SetText(ctx, path, strings.TrimSpace(string(body)))
			} else {
				resp = dispatcher.Rejected(path, dispatcher.ErrRateLimited)
			}
		default:
			w.Header().Set("Allow", "GET, PUT, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusFor(resp))
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error(fmt.Sprintf("%s - watchers response encode: %v", logPrefix, err))
		}
	}
}

func statusFor(resp *dispatcher.Response) int {
	if resp.Ok || resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case watcher.CodeNotFound:
		return http.StatusNotFound
	case watcher.CodeTypeMismatch, watcher.CodeDecodeError:
		return http.StatusBadRequest
	case watcher.CodeUnwritable:
		return http.StatusConflict
	case watcher.CodeTargetResolutionFailure, watcher.CodeRemote:
		return http.StatusBadGateway
	case watcher.CodePeerUnreachable:
		return http.StatusGatewayTimeout
	case dispatcher.ErrRateLimited.Code:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// homePageTemplate is the HTML for the watcher home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Service}} watchers</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>{{.Service}} watchers</h1>
  <p class="meta">Peer {{.PeerID}} on {{.Subject}}.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>NATS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    <p>Known peers: <span class="stat">{{.Health.Peers}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Watchers</h2>
    {{if .Tree.Error}}
    <p class="error">Could not read watchers: {{.Tree.Error.Message}}</p>
    {{else if not .Tree.Records}}
    <p>No watchers registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Path</th><th>Value</th><th>Doc</th></tr>
      </thead>
      <tbody>
        {{range .Tree.Records}}
        <tr>
          <td><a href="/watchers/{{.Path}}">{{.Path}}</a></td>
          <td>{{.Value}}</td>
          <td>{{.Doc}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Service string
	PeerID  int
	Subject string
	Health  *HealthOutput
	Tree    *dispatcher.Response
}

// handleHome returns an HTTP handler listing every local watcher.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Service: s.cfg.COMMSName,
			PeerID:  s.cfg.PeerID,
			Subject: s.cfg.PeerSubject(),
			Health:  s.Health(ctx),
			Tree:    s.disp.Text(ctx, ""),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
