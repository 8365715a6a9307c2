// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/frothlab/froth/internal/adapters/docstore"
	service "github.com/frothlab/froth/internal/app"
	"github.com/frothlab/froth/internal/domain/identity"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/domain/score"
	"github.com/frothlab/froth/internal/domain/tutorial"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmitRating(ctx context.Context, uid, title string, marks []model.Mark) (service.SubmissionResult, error)
	SubmitTutorialRating(ctx context.Context, uid, title string, marks []model.Mark) (tutorial.Result, error)
	ReviewVideo(ctx context.Context, uid string) (*model.Video, error)

	AddVideo(ctx context.Context, actor, title, url string, fps float64) error
	AddTutorialVideo(ctx context.Context, actor, title, url string, fps, average, stdev float64) error
	ListVideos(ctx context.Context, bucket model.Bucket, offset, limit int) ([]docstore.Document, error)
	GetVideo(ctx context.Context, title string) (docstore.Document, model.Bucket, error)
	Reevaluate(ctx context.Context, actor, title string) error
	ResetVideo(ctx context.Context, actor, title string) error

	RegisterUser(ctx context.Context, uid string) error
	GetUser(ctx context.Context, uid string) (*model.User, error)
	DeleteRater(ctx context.Context, actor, uid string) error
	GrantRole(ctx context.Context, actor, uid string, role model.Role) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	ratingsHandler *RatingsHandler
	videosHandler  *VideosHandler
	usersHandler   *UsersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		ratingsHandler: NewRatingsHandler(deps),
		videosHandler:  NewVideosHandler(deps),
		usersHandler:   NewUsersHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/ratings", MetricsMiddleware(s.ratingsHandler.HandlePostRating, "ratings"))
	mux.HandleFunc("/tutorial-ratings", MetricsMiddleware(s.ratingsHandler.HandlePostTutorialRating, "tutorial_ratings"))
	mux.HandleFunc("/review/", MetricsMiddleware(s.ratingsHandler.HandleGetReview, "review"))
	mux.HandleFunc("/videos", MetricsMiddleware(s.videosHandler.HandleVideos, "videos"))
	mux.HandleFunc("/videos/", MetricsMiddleware(s.videosHandler.HandleVideo, "video"))
	mux.HandleFunc("/tutorial-videos", MetricsMiddleware(s.videosHandler.HandlePostTutorialVideo, "tutorial_videos"))
	mux.HandleFunc("/users", MetricsMiddleware(s.usersHandler.HandlePostUser, "users"))
	mux.HandleFunc("/users/", MetricsMiddleware(s.usersHandler.HandleUser, "user"))
	mux.HandleFunc("/roles", MetricsMiddleware(s.usersHandler.HandlePostRole, "roles"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor translates service-layer sentinels to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, score.ErrMalformedRating),
		errors.Is(err, service.ErrInvalidRole):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrNotQualified),
		errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrUnknownVideo),
		errors.Is(err, service.ErrNoVideoAvailable),
		errors.Is(err, identity.ErrUnknownSubject),
		errors.Is(err, tutorial.ErrUnknownTrainee),
		errors.Is(err, tutorial.ErrUnknownTutorial),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrDuplicateSubmission),
		errors.Is(err, service.ErrVideoNotRateable),
		errors.Is(err, service.ErrVideoExists),
		errors.Is(err, service.ErrUserExists),
		errors.Is(err, service.ErrNotFlagged),
		errors.Is(err, tutorial.ErrDuplicateSubmission):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, service.ErrTooMuchContention),
		errors.Is(err, tutorial.ErrTooMuchContention),
		errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
