// Package ingest serves the local HTTP API the browser extension reports
// tab lifecycle events and tab snapshots to.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/runnerr0/tabtime/internal/browser"
)

// EventType names a browser lifecycle signal.
type EventType string

const (
	EventCreated    EventType = "created"
	EventActivated  EventType = "activated"
	EventUpdated    EventType = "updated"
	EventRemoved    EventType = "removed"
	EventPageLoaded EventType = "page_loaded"
	EventShutdown   EventType = "shutdown"
)

// DefaultMaxRequestSize bounds request bodies when Options leaves it unset.
const DefaultMaxRequestSize = 1 << 20

// Event is one lifecycle signal as posted by the extension.
type Event struct {
	Type       EventType `json:"type"`
	TabID      int       `json:"tab_id"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	URLChanged bool      `json:"url_changed,omitempty"`
	Status     string    `json:"status,omitempty"`
}

// Snapshot is the full list of open tabs.
type Snapshot struct {
	Tabs []browser.Tab `json:"tabs"`
}

// Tracker consumes lifecycle signals.
type Tracker interface {
	TabCreated(ctx context.Context, tabID int, url string)
	TabActivated(ctx context.Context, tabID int)
	TabUpdated(ctx context.Context, tabID int, urlChanged bool, url, title, status string)
	TabRemoved(ctx context.Context, tabID int)
	PageLoaded(ctx context.Context, tabID int, url, title string)
	Shutdown(ctx context.Context) error
	Tracked() int
}

// Options configures a Server.
type Options struct {
	Logger         *slog.Logger
	MaxRequestSize int64
}

// Server routes posted events to the tracker and keeps the tab mirror in
// step with them.
type Server struct {
	tracker Tracker
	tabs    *browser.Registry
	logger  *slog.Logger
	maxBody int64
}

// NewServer creates a Server.
func NewServer(tr Tracker, tabs *browser.Registry, opts Options) *Server {
	s := &Server{
		tracker: tr,
		tabs:    tabs,
		logger:  opts.Logger,
		maxBody: opts.MaxRequestSize,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxRequestSize
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handleEvent)
	mux.HandleFunc("POST /tabs", s.handleTabs)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Apply updates the tab mirror for ev and hands it to the tracker. The
// mirror changes first so a closed tab is already gone when its final
// segment is flushed.
func (s *Server) Apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCreated:
		s.tabs.Put(browser.Tab{ID: ev.TabID, URL: ev.URL, Title: ev.Title})
		s.tracker.TabCreated(ctx, ev.TabID, ev.URL)
	case EventActivated:
		s.tabs.Activate(ev.TabID)
		s.tracker.TabActivated(ctx, ev.TabID)
	case EventUpdated:
		s.tabs.Put(browser.Tab{ID: ev.TabID, URL: ev.URL, Title: ev.Title})
		s.tracker.TabUpdated(ctx, ev.TabID, ev.URLChanged, ev.URL, ev.Title, ev.Status)
	case EventRemoved:
		s.tabs.Remove(ev.TabID)
		s.tracker.TabRemoved(ctx, ev.TabID)
	case EventPageLoaded:
		s.tabs.Put(browser.Tab{ID: ev.TabID, URL: ev.URL, Title: ev.Title})
		s.tracker.PageLoaded(ctx, ev.TabID, ev.URL, ev.Title)
	case EventShutdown:
		if err := s.tracker.Shutdown(ctx); err != nil {
			s.logger.Warn("shutdown flush incomplete", "err", err)
		}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if !s.decode(w, r, &ev) {
		return
	}
	if err := s.Apply(r.Context(), ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("event applied", "type", ev.Type, "tab_id", ev.TabID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	var snap Snapshot
	if !s.decode(w, r, &snap) {
		return
	}
	s.tabs.Replace(snap.Tabs)
	s.logger.Debug("tab snapshot received", "tabs", len(snap.Tabs))
	writeJSON(w, http.StatusOK, map[string]any{"status": "received", "tabs": len(snap.Tabs)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tracked": s.tracker.Tracked()})
}

// decode reads a JSON body into v, writing the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
