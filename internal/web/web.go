package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"planit/internal/config"
	"planit/internal/loader"
	appLog "planit/internal/log"
	"planit/internal/model"
	"planit/internal/view"
)

const maxControlBodyBytes int64 = 1 << 16

// Loader supplies the raw record list for a refresh; *loader.Loader
// implements it.
type Loader interface {
	Load(ctx context.Context) (loader.Result, error)
}

// Server exposes the calendar view and its controls over HTTP.
//
// All state transitions go through mu, so the view state sees one change at a
// time. Fetches run without holding mu and are tagged so that a slow,
// superseded response cannot overwrite a newer one.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	loader Loader
	now    func() time.Time

	mu    sync.Mutex
	state *view.State
}

// NewServer constructs a new Server around state.
func NewServer(cfg *config.Config, state *view.State, loader Loader) *Server {
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		loader: loader,
		now:    time.Now,
		state:  state,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("POST /api/filter/category", s.handleSetCategory)
	s.mux.HandleFunc("POST /api/filter/genre", s.handleToggleGenre)
	s.mux.HandleFunc("POST /api/filter/reset", s.handleResetFilters)

	s.mux.HandleFunc("POST /api/nav/{step}", s.handleNavigate)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

// Refresh loads events from every source and applies them unless a newer
// refresh was started in the meantime. A failed load leaves the current
// events on screen and sets a notice. A degraded load (some source failed or
// was served from cache) is applied and also sets a notice.
func (s *Server) Refresh(ctx context.Context) error {
	s.mu.Lock()
	seq := s.state.BeginFetch()
	s.mu.Unlock()

	res, err := s.loader.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state.FailFetch(seq, err)
		return err
	}
	if res.Degraded() {
		s.state.ApplyDegradedFetch(seq, res.Records, s.now(), res.Problem())
		return nil
	}
	s.state.ApplyFetch(seq, res.Records, s.now())
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	s.writeView(w)
}

type categoryRequest struct {
	Category string `json:"category"`
}

type genreRequest struct {
	Genre string `json:"genre"`
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeControl(w, r, &req) {
		return
	}

	s.mu.Lock()
	err := s.state.SetCategory(req.Category)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, view.ErrUnknownCategory) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeView(w)
}

func (s *Server) handleToggleGenre(w http.ResponseWriter, r *http.Request) {
	var req genreRequest
	if !decodeControl(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Genre) == "" {
		writeError(w, http.StatusBadRequest, "genre is required")
		return
	}

	s.mu.Lock()
	s.state.ToggleGenre(req.Genre)
	s.mu.Unlock()
	s.writeView(w)
}

func (s *Server) handleResetFilters(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.state.ResetFilters()
	s.mu.Unlock()
	s.writeView(w)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch r.PathValue("step") {
	case "today":
		s.state.Today(s.now())
	case "back":
		s.state.Back()
	case "next":
		s.state.Next()
	default:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown navigation step")
		return
	}
	s.mu.Unlock()
	s.writeView(w)
}

// handleRefresh triggers an immediate reload. A failed reload still answers
// 200 with the unchanged view and its notice; the page stays usable.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.Refresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err)
	}
	s.writeView(w)
}

// handleEvents serves the last fetched raw records, optionally narrowed the
// way the events backend does it:
//
// GET /api/events?category=Music&category=Sports&genre=Rock,Jazz
//   - category / genre may repeat or be comma-separated
//   - blank values are ignored; "All" (any case) in category is ignored
//   - both filters present: category-in AND genre-in
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	categories := splitParams(q["category"], true)
	genres := splitParams(q["genre"], false)

	s.mu.Lock()
	records := s.state.Records()
	s.mu.Unlock()

	out := make([]model.RawEventRecord, 0, len(records))
	for _, rec := range records {
		if len(categories) > 0 && (rec.Category == nil || !slices.Contains(categories, *rec.Category)) {
			continue
		}
		if len(genres) > 0 && (rec.Genre == nil || !slices.Contains(genres, *rec.Genre)) {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func splitParams(values []string, dropAll bool) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || (dropAll && strings.EqualFold(part, model.AllCategories)) {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}

// viewResponse is the JSON shape the grid renderer consumes.
type viewResponse struct {
	Events       []eventDTO   `json:"events"`
	TotalEvents  int          `json:"total_events"`
	Categories   []string     `json:"categories"`
	Genres       []string     `json:"genres"`
	Selection    selectionDTO `json:"selection"`
	Window       windowDTO    `json:"window"`
	Week         weekDTO      `json:"week"`
	CenteredDate string       `json:"centered_date"`
	TimeZone     string       `json:"timezone"`
	WeekStart    string       `json:"week_start"`
	Notice       string       `json:"notice,omitempty"`
	Malformed    []string     `json:"malformed,omitempty"`
	LoadedAt     *time.Time   `json:"loaded_at,omitempty"`
}

type eventDTO struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
	Category string    `json:"category"`
	Genre    string    `json:"genre"`
}

type selectionDTO struct {
	Category string   `json:"category"`
	Genres   []string `json:"genres"`
}

type windowDTO struct {
	MinHour  int       `json:"min_hour"`
	MaxHour  int       `json:"max_hour"`
	Min      time.Time `json:"min"`
	Max      time.Time `json:"max"`
	ScrollTo time.Time `json:"scroll_to"`
}

// weekDTO is the [start, end) range of the visible week.
type weekDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) writeView(w http.ResponseWriter) {
	s.mu.Lock()
	snap := s.state.Snapshot()
	loc := s.state.Location()
	weekStart, weekEnd := s.state.Week(s.cfg.WeekStartDay())
	s.mu.Unlock()

	events := make([]eventDTO, 0, len(snap.Events))
	for _, ev := range snap.Events {
		events = append(events, eventDTO{
			ID:       ev.ID,
			Title:    ev.Title,
			Start:    ev.Start,
			End:      ev.End,
			AllDay:   false,
			Category: ev.Category,
			Genre:    ev.Genre,
		})
	}

	genres := snap.ActiveGenres
	if genres == nil {
		genres = []string{}
	}

	resp := viewResponse{
		Events:      events,
		TotalEvents: snap.TotalEvents,
		Categories:  snap.Categories,
		Genres:      snap.Genres,
		Selection:   selectionDTO{Category: snap.Category, Genres: genres},
		Window: windowDTO{
			MinHour:  snap.Window.MinHour,
			MaxHour:  snap.Window.MaxHour,
			Min:      snap.Window.Min,
			Max:      snap.Window.Max,
			ScrollTo: snap.Window.ScrollTo,
		},
		Week:         weekDTO{Start: weekStart, End: weekEnd},
		CenteredDate: snap.Window.AnchorDate.Format(time.DateOnly),
		TimeZone:     loc.String(),
		WeekStart:    s.cfg.WeekStart,
		Notice:       snap.Notice,
		Malformed:    snap.Malformed,
	}
	if !snap.LoadedAt.IsZero() {
		at := snap.LoadedAt
		resp.LoadedAt = &at
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeControl reads a small JSON control body, rejecting unknown fields.
func decodeControl(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxControlBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
