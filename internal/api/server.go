// Package api serves the meeting catalog over HTTP and accepts transcript
// uploads from external helpers.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/store"
)

// maxMissingTranscripts caps the GET /api/transcripts listing.
const maxMissingTranscripts = 100

// Options configures a Server.
type Options struct {
	// APIKey guards the transcript endpoints. Empty means uploads are refused.
	APIKey         string
	AllowedOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	store store.Store
	queue jobs.Queue
	opts  Options
}

// New creates a Server. queue may be nil, in which case uploaded
// transcripts are stored without queueing a summary.
func New(st store.Store, queue jobs.Queue, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{store: st, queue: queue, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/meetings", s.listMeetings)
		r.Get("/meetings/{id}", s.getMeeting)
		r.Get("/municipalities", s.listMunicipalities)
		r.Get("/municipalities/{slug}", s.getMunicipality)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Get("/transcripts", s.missingTranscripts)
			r.Post("/transcripts", s.uploadTranscript)
		})
	})

	return r
}

// requireAPIKey accepts the key from the X-API-Key header or the api_key
// query parameter.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			zap.L().Error("api: no API key configured for transcript endpoints")
			writeError(w, http.StatusInternalServerError, "API key not configured")
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
