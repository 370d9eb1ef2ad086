package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"layerlex/internal/codec"
	"layerlex/internal/domain"
	"layerlex/internal/pipeline"
	"layerlex/internal/service"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 4 << 20

// Engine is the classifier surface the handlers depend on
type Engine interface {
	Extract(ctx context.Context, rawName string) (*domain.ExtractionResult, bool)
	Resolve(attrs map[string]string) (*domain.ResolvedMapping, domain.FeatureContext, bool, error)
	Classify(ctx context.Context, unit pipeline.Unit) (*pipeline.Result, error)
	ClassifyBatch(ctx context.Context, units []pipeline.Unit) ([]*pipeline.Result, error)
	Reload(ctx context.Context, trigger string) (*service.ReloadSummary, error)
	Patterns() service.PatternListing
	Stats(ctx context.Context) (*service.StatsReport, error)
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ExtractRequest asks for extraction of one raw name
type ExtractRequest struct {
	RawName string `json:"raw_name"`
}

// ExtractResponse carries the extraction or matched=false
type ExtractResponse struct {
	Matched bool                     `json:"matched"`
	Result  *domain.ExtractionResult `json:"result,omitempty"`
}

// ResolveRequest asks for resolution of one attribute set
type ResolveRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// ResolveResponse carries the winning mapping or matched=false
type ResolveResponse struct {
	Matched bool                    `json:"matched"`
	Context domain.FeatureContext   `json:"context"`
	Mapping *domain.ResolvedMapping `json:"mapping,omitempty"`
}

// ClassifyRequest holds either a single unit or a batch in Units
type ClassifyRequest struct {
	pipeline.Unit
	Units []pipeline.Unit `json:"units,omitempty"`
}

// BatchResponse is returned for batch classification
type BatchResponse struct {
	Report  *codec.Report      `json:"report"`
	Results []*pipeline.Result `json:"results"`
}

// ClassifierHandler handles engine API requests
type ClassifierHandler struct {
	svc Engine
	log logrus.FieldLogger
}

// NewClassifierHandler creates a new classifier handler
func NewClassifierHandler(svc Engine, logger logrus.FieldLogger) *ClassifierHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ClassifierHandler{svc: svc, log: logger}
}

// Extract runs pattern extraction
func (h *ClassifierHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.RawName == "" {
		h.writeError(w, "raw_name is required", "", http.StatusBadRequest)
		return
	}

	res, ok := h.svc.Extract(r.Context(), req.RawName)
	h.writeJSON(w, ExtractResponse{Matched: ok, Result: res}, http.StatusOK)
}

// Resolve runs mapping resolution
func (h *ClassifierHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	m, fc, ok, err := h.svc.Resolve(req.Attributes)
	if err != nil {
		h.log.WithError(err).Error("Resolution failed")
		h.writeError(w, "Resolution failed", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, ResolveResponse{Matched: ok, Context: fc, Mapping: m}, http.StatusOK)
}

// Classify runs the full pipeline. A body with "units" is a batch; the
// report can be exported as YAML with ?format=yaml.
func (h *ClassifierHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if len(req.Units) == 0 {
		if req.RawName == "" && len(req.Attributes) == 0 {
			h.writeError(w, "raw_name, attributes or units is required", "", http.StatusBadRequest)
			return
		}
		res, err := h.svc.Classify(r.Context(), req.Unit)
		if err != nil {
			h.log.WithError(err).WithField("raw_name", req.RawName).Error("Classification failed")
			h.writeError(w, "Classification failed", err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, res, http.StatusOK)
		return
	}

	results, err := h.svc.ClassifyBatch(r.Context(), req.Units)
	if err != nil {
		h.log.WithError(err).WithField("units", len(req.Units)).Error("Batch classification failed")
		h.writeError(w, "Batch classification failed", err.Error(), http.StatusInternalServerError)
		return
	}
	report, err := codec.NewReport(results)
	if err != nil {
		h.writeError(w, "Failed to build report", err.Error(), http.StatusInternalServerError)
		return
	}

	if format := r.URL.Query().Get("format"); format != "" && format != "json" {
		exporter, err := codec.ExporterFor(format)
		if err != nil {
			h.writeError(w, "Unsupported format", err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		if err := exporter.Export(report, w); err != nil {
			// Can't write error response as we already started the body
			h.log.WithError(err).Error("Failed to export report")
		}
		return
	}

	h.writeJSON(w, BatchResponse{Report: report, Results: results}, http.StatusOK)
}

// ListPatterns returns the current snapshot with its load errors
func (h *ClassifierHandler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Patterns(), http.StatusOK)
}

// ReloadPatterns rebuilds every snapshot from the store
func (h *ClassifierHandler) ReloadPatterns(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Reload(r.Context(), service.TriggerManual)
	if err != nil {
		h.writeError(w, "Reload failed", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, summary, http.StatusOK)
}

// Stats returns per-pattern match statistics
func (h *ClassifierHandler) Stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to load stats")
		h.writeError(w, "Failed to load stats", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, report, http.StatusOK)
}

// Helper methods

func (h *ClassifierHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *ClassifierHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Error("Failed to encode JSON")
	}
}

func (h *ClassifierHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
