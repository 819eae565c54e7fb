package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/roundsync/internal/models"
	"github.com/desertthunder/roundsync/internal/shared"
	"github.com/desertthunder/roundsync/internal/tasks"
)

const maxBodyBytes = 4 << 20

// Engine is the subset of [tasks.Engine] the API serves.
type Engine interface {
	MatchOne(ctx context.Context, song models.CanonicalSong, p models.Platform) (*models.MatchResult, error)
	BulkMatch(ctx context.Context, prog chan<- tasks.ProgressUpdate, songs []models.CanonicalSong, opts tasks.BulkMatchOpts) (*models.BulkMatchReport, error)
	SyncPlaylist(ctx context.Context, prog chan<- tasks.ProgressUpdate, groupID string, p models.Platform) (*models.SyncResult, error)
	RenamePlaylist(ctx context.Context, prog chan<- tasks.ProgressUpdate, groupID string, p models.Platform, name string) (*models.GroupPlaylist, error)
	DeactivatePlaylist(ctx context.Context, groupID string, p models.Platform) error
	Playlists(ctx context.Context, groupID string) ([]*models.GroupPlaylist, error)
}

// MatchRequest is the body of POST /api/match.
type MatchRequest struct {
	Song     models.CanonicalSong `json:"song"`
	Platform string               `json:"platform"`
}

// BulkMatchRequest is the body of POST /api/match/bulk.
type BulkMatchRequest struct {
	Songs               []models.CanonicalSong `json:"songs"`
	TargetPlatforms     []string               `json:"targetPlatforms"`
	Limit               int                    `json:"limit"`
	RespectDurationHint *bool                  `json:"respectDurationHint"`
}

// RenameRequest is the body of PATCH /api/groups/{groupID}/playlists/{platform}.
type RenameRequest struct {
	Name string `json:"name"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API holds the JSON handlers.
type API struct {
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *log.Logger
}

// NewAPI creates the API handlers. A nil gatherer serves the default registry on /metrics.
func NewAPI(engine Engine, gatherer prometheus.Gatherer, logger *log.Logger) *API {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &API{engine: engine, gatherer: gatherer, logger: logger}
}

// Register mounts every route on r.
func (a *API) Register(r Router) {
	r.Handle(http.MethodGet, "/health", http.HandlerFunc(a.health))
	r.Handle(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	r.Handle(http.MethodPost, "/api/match", http.HandlerFunc(a.match))
	r.Handle(http.MethodPost, "/api/match/bulk", http.HandlerFunc(a.bulkMatch))
	r.Handle(http.MethodGet, "/api/groups/{groupID}/playlists", http.HandlerFunc(a.playlists))
	r.Handle(http.MethodPost, "/api/groups/{groupID}/playlists/{platform}/sync", http.HandlerFunc(a.sync))
	r.Handle(http.MethodPatch, "/api/groups/{groupID}/playlists/{platform}", http.HandlerFunc(a.rename))
	r.Handle(http.MethodDelete, "/api/groups/{groupID}/playlists/{platform}", http.HandlerFunc(a.deactivate))
}

// NewHandler builds the router with the default middleware and every API route.
func NewHandler(engine Engine, gatherer prometheus.Gatherer, logger *log.Logger) http.Handler {
	api := NewAPI(engine, gatherer, logger)
	r := NewBasicRouter()
	r.Use(DefaultMiddleware(api.logger)...)
	api.Register(r)
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) match(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	p, err := models.ParsePlatform(req.Platform)
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.engine.MatchOne(r.Context(), req.Song, p)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) bulkMatch(w http.ResponseWriter, r *http.Request) {
	var req BulkMatchRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	opts := tasks.BulkMatchOpts{Limit: req.Limit, RespectDurationHint: req.RespectDurationHint}
	for _, name := range req.TargetPlatforms {
		p, err := models.ParsePlatform(name)
		if err != nil {
			a.writeError(w, err)
			return
		}
		opts.TargetPlatforms = append(opts.TargetPlatforms, p)
	}

	report, err := a.engine.BulkMatch(r.Context(), nil, req.Songs, opts)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *API) playlists(w http.ResponseWriter, r *http.Request) {
	pls, err := a.engine.Playlists(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if pls == nil {
		pls = []*models.GroupPlaylist{}
	}
	a.writeJSON(w, http.StatusOK, pls)
}

func (a *API) sync(w http.ResponseWriter, r *http.Request) {
	p, err := models.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.engine.SyncPlaylist(r.Context(), nil, chi.URLParam(r, "groupID"), p)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, res)
}

func (a *API) rename(w http.ResponseWriter, r *http.Request) {
	p, err := models.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req RenameRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	pl, err := a.engine.RenamePlaylist(r.Context(), nil, chi.URLParam(r, "groupID"), p, req.Name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pl)
}

func (a *API) deactivate(w http.ResponseWriter, r *http.Request) {
	p, err := models.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		a.writeError(w, err)
		return
	}

	if err := a.engine.DeactivatePlaylist(r.Context(), chi.URLParam(r, "groupID"), p); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps an engine error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrSyncInProgress), errors.Is(err, shared.ErrLeaseHeld):
		return http.StatusConflict
	case errors.Is(err, shared.ErrPlaylistNotFound), errors.Is(err, shared.ErrSongNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidPlatform),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, shared.ErrPlatformUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "status", status, "error", err)
	}
	a.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}
