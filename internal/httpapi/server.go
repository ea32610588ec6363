package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"artifactd/internal/catalog"
	"artifactd/internal/lifecycle"
	"artifactd/internal/loader"
	"artifactd/internal/provider"
	"artifactd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	List() []types.ArtifactDescriptor
	ListByTask(family string) []types.ArtifactDescriptor
	Get(ctx context.Context, id string, preferred types.Variant) (lifecycle.LoadOutcome, error)
	Unload(id string) error
	Status() types.StatusResponse
	UsageReport() types.UsageReport
	Device() types.DeviceProfile
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/artifacts", func(w http.ResponseWriter, r *http.Request) {
		var list []types.ArtifactDescriptor
		if family := r.URL.Query().Get("family"); family != "" {
			list = svc.ListByTask(family)
		} else {
			list = svc.List()
		}
		writeJSON(w, map[string]any{"artifacts": list})
	})

	r.Post("/artifacts/{id}/load", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req types.LoadRequest
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		if req.Variant != "" && !catalog.Known(req.Variant) {
			writeJSONError(w, http.StatusBadRequest, "unknown variant: "+string(req.Variant))
			return
		}

		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		// Join server base context with request context so shutdown
		// cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		out, err := svc.Get(ctx, id, req.Variant)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForError(err)
			writeJSONError(w, status, err.Error())
			logEvent().
				Str("artifact", id).
				Int("status", status).
				Dur("dur", time.Since(start)).
				Str("request_id", rid).
				Err(err).
				Msg("load end")
			return
		}
		writeJSON(w, types.LoadResponse{
			ID:        id,
			Variant:   out.Variant,
			SizeBytes: out.SizeBytes,
			Fallbacks: out.Fallbacks,
			FromCache: out.FromCache,
			OpID:      out.OpID,
		})
		logEvent().
			Str("artifact", id).
			Str("variant", string(out.Variant)).
			Bool("from_cache", out.FromCache).
			Dur("dur", time.Since(start)).
			Str("request_id", rid).
			Msg("load end")
	})

	r.Delete("/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Unload(id); err != nil {
			writeJSONError(w, statusForError(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/usage", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.UsageReport())
	})

	r.Get("/device", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Device())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// statusForError maps well-known lifecycle errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case provider.IsNotFound(err):
		return http.StatusNotFound
	case loader.IsNoViableVariant(err):
		return http.StatusInsufficientStorage
	case provider.IsResourceExhausted(err):
		return http.StatusInsufficientStorage
	case lifecycle.IsLoadTimeout(err):
		return http.StatusGatewayTimeout
	case lifecycle.IsShuttingDown(err):
		return http.StatusServiceUnavailable
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
