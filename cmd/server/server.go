package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Simplici0/glassquote/internal/auth"
	"github.com/Simplici0/glassquote/internal/formula"
	"github.com/Simplici0/glassquote/internal/logging"
	"github.com/Simplici0/glassquote/internal/metrics"
	"github.com/Simplici0/glassquote/internal/pricing"
	"github.com/Simplici0/glassquote/internal/snapshotfile"
	"github.com/Simplici0/glassquote/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
	yamlType       = "application/yaml"
)

type server struct {
	store          *store.Store
	verifier       *auth.Verifier
	metrics        *metrics.Metrics
	formulaTimeout time.Duration
}

func newServer(st *store.Store, verifier *auth.Verifier, m *metrics.Metrics, formulaTimeout time.Duration) *server {
	return &server{store: st, verifier: verifier, metrics: m, formulaTimeout: formulaTimeout}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/quotes/preview", s.handleQuotePreview)
		r.Post("/quotes", s.handleQuoteCreate)
		r.Get("/quotes", s.handleQuotesList)
		r.Get("/quotes/{id}", s.handleQuoteGet)
		r.Get("/quotes/{id}/text", s.handleQuoteText)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.verifier.Middleware)
			r.Get("/formula", s.handleFormulaGet)
			r.Put("/formula", s.handleFormulaPut)
			r.Post("/formula/validate", s.handleFormulaValidate)
			r.Get("/formula/audit", s.handleFormulaAudit)
			r.Get("/snapshot", s.handleSnapshotExport)
			r.Put("/snapshot", s.handleSnapshotImport)
			r.Put("/settings", s.handleSettingsPut)
			r.Put("/markups/{name}", s.handleMarkupPut)
			r.Put("/glass-rates", s.handleGlassRatesPut)
		})
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// calculator builds a calculator from the current configuration, so admin changes apply
// to the next request without a restart.
func (s *server) calculator(ctx context.Context) (*pricing.Calculator, error) {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pricing snapshot: %w", err)
	}
	return pricing.NewCalculator(snap, pricing.WithFormulaTimeout(s.formulaTimeout))
}

func (s *server) quote(ctx context.Context, req pricing.QuoteRequest) (pricing.QuoteResult, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return pricing.QuoteResult{}, err
	}

	res := calc.CalculateQuote(ctx, req)
	mode := calc.Snapshot().Formula.Mode
	s.metrics.Observe(mode, res)

	logger := zerolog.Ctx(ctx)
	switch {
	case res.Rejected():
		logger.Warn().
			Str("code", res.ErrorCode).
			Str("thickness", string(req.Thickness)).
			Str("glass_type", string(req.GlassType)).
			Msg(res.Error)
	case res.FormulaFallback != "":
		logger.Warn().
			Str("configured_mode", string(mode)).
			Str("reason", res.FormulaFallback).
			Msg("formula fell back to default divisor")
	}
	return res, nil
}

func (s *server) handleQuotePreview(w http.ResponseWriter, r *http.Request) {
	var req pricing.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.quote(r.Context(), req)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createQuoteRequest struct {
	Title   string               `json:"title"`
	Notes   string               `json:"notes"`
	Request pricing.QuoteRequest `json:"request"`
}

func (s *server) handleQuoteCreate(w http.ResponseWriter, r *http.Request) {
	var body createQuoteRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.quote(r.Context(), body.Request)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	saved, err := s.store.SaveQuote(r.Context(), store.Quote{
		Title:   strings.TrimSpace(body.Title),
		Notes:   strings.TrimSpace(body.Notes),
		Request: body.Request,
		Result:  res,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *server) handleQuotesList(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.store.ListQuotes(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes})
}

func (s *server) handleQuoteGet(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuote(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleQuoteText renders the stored result as plain text. The saved result is used as
// is; rates changed since the quote was recorded do not affect it.
func (s *server) handleQuoteText(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuote(w, r)
	if !ok {
		return
	}

	var b strings.Builder
	if q.Title != "" {
		fmt.Fprintf(&b, "%s\n", q.Title)
	}
	fmt.Fprintf(&b, "Quote %s (%s)\n", q.ID, q.CreatedAt.Format(time.RFC3339))
	if q.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", q.Notes)
	}
	b.WriteString("\n")
	if err := pricing.WriteText(&b, q.Request, q.Result); err != nil {
		s.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func (s *server) loadQuote(w http.ResponseWriter, r *http.Request) (store.Quote, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quote id")
		return store.Quote{}, false
	}

	q, err := s.store.GetQuote(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "quote not found")
			return store.Quote{}, false
		}
		s.internalError(w, r, err)
		return store.Quote{}, false
	}
	return q, true
}

func (s *server) handleFormulaGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.FormulaConfig(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		cfg, err = pricing.DefaultFormulaConfig(), nil
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *server) handleFormulaPut(w http.ResponseWriter, r *http.Request) {
	// Keys left out of the body keep their default value.
	cfg := pricing.DefaultFormulaConfig()
	if err := decodeJSON(w, r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.store.SaveFormulaConfig(r.Context(), cfg, auth.Actor(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrInvalidFormula) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("changed_by", entry.ChangedBy).
		Str("mode", string(cfg.Mode)).
		Str("audit_id", entry.ID.String()).
		Msg("formula config updated")
	writeJSON(w, http.StatusOK, entry)
}

type validateFormulaRequest struct {
	Expression string `json:"expression"`
}

type validateFormulaResponse struct {
	Valid        bool     `json:"valid"`
	Error        string   `json:"error,omitempty"`
	SampleTotal  float64  `json:"sample_total"`
	SampleResult *float64 `json:"sample_result,omitempty"`
}

func (s *server) handleFormulaValidate(w http.ResponseWriter, r *http.Request) {
	var body validateFormulaRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.formulaTimeout)
	defer cancel()

	resp := validateFormulaResponse{SampleTotal: formula.SampleTotal}
	v, err := formula.Evaluate(ctx, body.Expression, formula.SampleTotal)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Valid = true
		resp.SampleResult = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleFormulaAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.store.FormulaAudit(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *server) handleSnapshotExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LoadSnapshot(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", yamlType)
	w.WriteHeader(http.StatusOK)
	if err := snapshotfile.Encode(w, snap); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("write snapshot export")
	}
}

func (s *server) handleSnapshotImport(w http.ResponseWriter, r *http.Request) {
	snap, err := snapshotfile.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.store.Import(r.Context(), snap, auth.Actor(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrInvalidFormula) || errors.Is(err, store.ErrInvalidRate) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.internalError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("changed_by", auth.Actor(r.Context())).
		Int("glass_rates", res.GlassRates).
		Msg("snapshot imported")
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var settings pricing.Settings
	if err := decodeJSON(w, r, &settings); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateSettings(r.Context(), settings); err != nil {
		s.rateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type markupRequest struct {
	Percent float64 `json:"percent"`
}

func (s *server) handleMarkupPut(w http.ResponseWriter, r *http.Request) {
	var body markupRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.store.SetMarkup(r.Context(), name, body.Percent); err != nil {
		s.rateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "percent": body.Percent})
}

type glassRateRequest struct {
	Thickness   pricing.Thickness `json:"thickness"`
	GlassType   pricing.GlassType `json:"glass_type"`
	BasePrice   float64           `json:"base_price"`
	PolishPrice float64           `json:"polish_price"`
}

func (s *server) handleGlassRatesPut(w http.ResponseWriter, r *http.Request) {
	var rows []glassRateRequest
	if err := decodeJSON(w, r, &rows); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(rows) == 0 {
		respondError(w, http.StatusBadRequest, "at least one glass rate is required")
		return
	}

	for _, row := range rows {
		key := pricing.GlassKey{Thickness: row.Thickness, GlassType: row.GlassType}
		rate := pricing.GlassRate{BasePrice: row.BasePrice, PolishPrice: row.PolishPrice}
		if err := s.store.UpsertGlassRate(r.Context(), key, rate); err != nil {
			s.rateError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(rows)})
}

func (s *server) rateError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrInvalidRate) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.internalError(w, r, err)
}

func (s *server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
