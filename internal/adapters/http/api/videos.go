// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/frothlab/froth/internal/domain/model"
)

// VideosHandler handles video registration, lookup, and lifecycle
// override requests.
type VideosHandler struct {
	deps Dependencies
}

// NewVideosHandler creates a new videos handler.
func NewVideosHandler(deps Dependencies) *VideosHandler {
	return &VideosHandler{deps: deps}
}

// videoRequest mirrors the wire schema for POST /videos and
// POST /tutorial-videos. Average and Stdev are only read on the
// tutorial path.
type videoRequest struct {
	Actor   string  `json:"actor"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	FPS     float64 `json:"fps"`
	Average float64 `json:"average"`
	Stdev   float64 `json:"stdev"`
}

func (v videoRequest) validate() error {
	switch {
	case strings.TrimSpace(v.Actor) == "":
		return fmt.Errorf("%w: missing actor", ErrBadRequest)
	case strings.TrimSpace(v.Title) == "":
		return fmt.Errorf("%w: missing title", ErrBadRequest)
	case strings.Contains(v.Title, "/"):
		return fmt.Errorf("%w: title must not contain '/'", ErrBadRequest)
	case strings.TrimSpace(v.URL) == "":
		return fmt.Errorf("%w: missing url", ErrBadRequest)
	case v.FPS <= 0:
		return fmt.Errorf("%w: fps must be positive", ErrBadRequest)
	}
	return nil
}

// actorRequest carries the acting subject for lifecycle overrides.
type actorRequest struct {
	Actor string `json:"actor"`
}

type videoResponse struct {
	Bucket model.Bucket    `json:"bucket"`
	Video  json.RawMessage `json:"video"`
}

type ackResponse struct {
	Status string `json:"status"`
}

// HandleVideos handles POST /videos and GET /videos requests.
func (h *VideosHandler) HandleVideos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleAddVideo(w, r)
	case http.MethodGet:
		h.handleListVideos(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *VideosHandler) handleAddVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.AddVideo(r.Context(), req.Actor, req.Title, req.URL, req.FPS); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "created"})
}

func (h *VideosHandler) handleListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket := model.Bucket(q.Get("bucket"))
	if bucket == "" {
		bucket = model.BucketIncomplete
	}
	if !bucket.Valid() {
		writeError(w, fmt.Errorf("%w: unknown bucket %q", ErrBadRequest, bucket))
		return
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	docs, err := h.deps.ListVideos(r.Context(), bucket, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		items[i] = json.RawMessage(d)
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleVideo handles GET /videos/{title}, POST /videos/{title}/reevaluate,
// and POST /videos/{title}/reset requests.
func (h *VideosHandler) HandleVideo(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/videos/")
	title, action, _ := strings.Cut(path, "/")
	if title == "" {
		writeError(w, fmt.Errorf("%w: missing title", ErrBadRequest))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		raw, bucket, err := h.deps.GetVideo(r.Context(), title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, videoResponse{Bucket: bucket, Video: json.RawMessage(raw)})

	case action == "reevaluate" && r.Method == http.MethodPost:
		req, err := decodeActor(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.deps.Reevaluate(r.Context(), req.Actor, title); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "queued"})

	case action == "reset" && r.Method == http.MethodPost:
		req, err := decodeActor(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.deps.ResetVideo(r.Context(), req.Actor, title); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ackResponse{Status: "reset"})

	default:
		http.NotFound(w, r)
	}
}

// HandlePostTutorialVideo handles POST /tutorial-videos requests.
func (h *VideosHandler) HandlePostTutorialVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req videoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if req.Stdev <= 0 {
		writeError(w, fmt.Errorf("%w: stdev must be positive", ErrBadRequest))
		return
	}
	err := h.deps.AddTutorialVideo(r.Context(), req.Actor, req.Title, req.URL, req.FPS, req.Average, req.Stdev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ackResponse{Status: "created"})
}

func decodeActor(r *http.Request) (actorRequest, error) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if strings.TrimSpace(req.Actor) == "" {
		return req, fmt.Errorf("%w: missing actor", ErrBadRequest)
	}
	return req, nil
}
