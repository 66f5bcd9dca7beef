package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/store"
)

type meetingsPage struct {
	Meetings  []model.MeetingWithMunicipality `json:"meetings"`
	Total     int                             `json:"total"`
	Page      int                             `json:"page"`
	PerPage   int                             `json:"per_page"`
	Sort      store.MeetingSort               `json:"sort"`
	Direction string                          `json:"direction"`
}

func (s *Server) listMeetings(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	s.writeMeetings(w, r, filter, nil)
}

func (s *Server) writeMeetings(w http.ResponseWriter, r *http.Request, filter store.MeetingFilter, muni *model.Municipality) {
	filter = filter.Normalize()
	meetings, total, err := s.store.ListMeetings(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list meetings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if meetings == nil {
		meetings = []model.MeetingWithMunicipality{}
	}
	page := meetingsPage{
		Meetings:  meetings,
		Total:     total,
		Page:      filter.Page,
		PerPage:   filter.PerPage,
		Sort:      filter.Sort,
		Direction: filter.Direction,
	}
	if muni == nil {
		writeJSON(w, http.StatusOK, page)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Municipality *model.Municipality `json:"municipality"`
		meetingsPage
	}{muni, page})
}

func filterFromQuery(r *http.Request) store.MeetingFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return store.MeetingFilter{
		Sort:      store.MeetingSort(q.Get("sort")),
		Direction: q.Get("direction"),
		Page:      page,
		PerPage:   perPage,
	}
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.store.GetMeeting(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get meeting", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listMunicipalities(w http.ResponseWriter, r *http.Request) {
	munis, err := s.store.ListMunicipalities(r.Context())
	if err != nil {
		zap.L().Error("api: list municipalities", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if munis == nil {
		munis = []model.Municipality{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"municipalities": munis})
}

// getMunicipality returns a municipality with its meetings, most recent
// first.
func (s *Server) getMunicipality(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	muni, err := s.store.GetMunicipalityBySlug(r.Context(), slug)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Municipality not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get municipality", zap.String("slug", slug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	filter := filterFromQuery(r)
	filter.MunicipalityID = muni.ID
	filter.Sort = store.SortDate
	filter.Direction = "desc"
	s.writeMeetings(w, r, filter, muni)
}

func (s *Server) missingTranscripts(w http.ResponseWriter, r *http.Request) {
	meetings, err := s.store.MeetingsMissingTranscript(r.Context(), maxMissingTranscripts)
	if err != nil {
		zap.L().Error("api: fetch missing transcripts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	ids := make([]string, 0, len(meetings))
	for _, m := range meetings {
		ids = append(ids, m.VideoID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"video_ids": ids,
		"count":     len(ids),
		"message":   fmt.Sprintf("%d meetings need transcripts", len(ids)),
	})
}

type transcriptUpload struct {
	VideoID    string `json:"video_id"`
	Transcript string `json:"transcript"`
}

// uploadTranscript stores a transcript produced outside the worker and
// queues its summary.
func (s *Server) uploadTranscript(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		writeError(w, http.StatusBadRequest, "Video ID is required")
		return
	}

	m, err := s.store.GetMeetingByVideoID(r.Context(), req.VideoID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Meeting not found for video ID: "+req.VideoID)
		return
	}
	if err != nil {
		zap.L().Error("api: look up meeting", zap.String("video_id", req.VideoID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "Transcript text is required")
		return
	}

	if err := s.store.SetTranscript(r.Context(), m.ID, req.Transcript); err != nil {
		zap.L().Error("api: save transcript", zap.String("video_id", req.VideoID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save transcript")
		return
	}
	zap.L().Info("api: transcript uploaded",
		zap.String("video_id", req.VideoID),
		zap.Int("chars", len(req.Transcript)),
	)

	if s.queue != nil && !m.HasSummary() {
		if err := s.queue.Enqueue(r.Context(), jobs.SummaryJob(m.VideoID)); err != nil {
			zap.L().Warn("api: enqueue summary", zap.String("video_id", m.VideoID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Transcript uploaded successfully",
		"meeting_id": m.ID,
		"video_id":   m.VideoID,
	})
}

// decodeUpload reads a JSON body, or form values for any other content type.
func decodeUpload(w http.ResponseWriter, r *http.Request) (transcriptUpload, error) {
	var req transcriptUpload
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.VideoID = r.FormValue("video_id")
	req.Transcript = r.FormValue("transcript")
	return req, nil
}
