// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/frothlab/froth/internal/domain/model"
)

// RatingsHandler handles rating submissions and the review feed.
type RatingsHandler struct {
	deps Dependencies
}

// NewRatingsHandler creates a new ratings handler.
func NewRatingsHandler(deps Dependencies) *RatingsHandler {
	return &RatingsHandler{deps: deps}
}

// ratingRequest mirrors the wire schema for POST /ratings and
// POST /tutorial-ratings.
type ratingRequest struct {
	UID   string       `json:"uid"`
	Video string       `json:"video"`
	Marks []model.Mark `json:"marks"`
}

func (r ratingRequest) validate() error {
	switch {
	case strings.TrimSpace(r.UID) == "":
		return fmt.Errorf("%w: missing uid", ErrBadRequest)
	case strings.TrimSpace(r.Video) == "":
		return fmt.Errorf("%w: missing video", ErrBadRequest)
	case len(r.Marks) == 0:
		return fmt.Errorf("%w: missing marks", ErrBadRequest)
	}
	return nil
}

type ratingResponse struct {
	SubmissionID string `json:"submission_id"`
	Raters       int    `json:"raters"`
	Triggered    bool   `json:"triggered"`
}

type tutorialRatingResponse struct {
	Valid      bool `json:"valid"`
	ValidCount int  `json:"valid_count"`
	Completed  bool `json:"completed"`
}

// HandlePostRating handles POST /ratings requests.
func (h *RatingsHandler) HandlePostRating(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.deps.SubmitRating(r.Context(), req.UID, req.Video, req.Marks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratingResponse{
		SubmissionID: res.SubmissionID,
		Raters:       res.Raters,
		Triggered:    res.Triggered,
	})
}

// HandlePostTutorialRating handles POST /tutorial-ratings requests.
func (h *RatingsHandler) HandlePostTutorialRating(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.deps.SubmitTutorialRating(r.Context(), req.UID, req.Video, req.Marks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tutorialRatingResponse{
		Valid:      res.Valid,
		ValidCount: res.ValidCount,
		Completed:  res.Completed,
	})
}

// HandleGetReview handles GET /review/{uid} requests. It returns one
// incomplete video the rater has not rated yet, with stored ratings
// stripped so raters never see each other's annotations.
func (h *RatingsHandler) HandleGetReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	uid := strings.TrimPrefix(r.URL.Path, "/review/")
	if uid == "" || strings.Contains(uid, "/") {
		writeError(w, fmt.Errorf("%w: missing uid", ErrBadRequest))
		return
	}
	v, err := h.deps.ReviewVideo(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	v.Raters = nil
	v.Ratings = nil
	writeJSON(w, http.StatusOK, v)
}
