package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
)

type fieldResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type entryResponse struct {
	*catalog.Entry
	Fields []fieldResponse `json:"fields"`
}

func newEntryResponse(e *catalog.Entry) entryResponse {
	fields := make([]fieldResponse, len(e.Fields))
	for i, f := range e.Fields {
		fields[i] = fieldResponse{Name: f.Name, Type: string(f.Type), Nullable: f.Nullable}
	}
	return entryResponse{Entry: e, Fields: fields}
}

type recordResponse struct {
	Dataset         string           `json:"dataset"`
	Token           string           `json:"token"`
	Sequence        int64            `json:"sequence"`
	State           ledger.State     `json:"state"`
	PriorState      ledger.State     `json:"prior_state,omitempty"`
	Attempts        int              `json:"attempts"`
	OpID            string           `json:"op_id"`
	Cause           *ledger.Cause    `json:"cause,omitempty"`
	Stats           map[string]int64 `json:"stats,omitempty"`
	CleanedLocation string           `json:"cleaned_location,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (s *Server) listCatalogHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cfg.Catalog.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = newEntryResponse(e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) currentEntryHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := s.cfg.Catalog.Current(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newEntryResponse(entry))
}

func (s *Server) versionsHandler(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	entries, err := s.cfg.Catalog.Versions(r.Context(), table)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(entries) == 0 {
		s.writeError(w, fmt.Errorf("table %s: %w", table, catalog.ErrNotFound))
		return
	}
	out := make([]entryResponse, len(entries))
	for i, e := range entries {
		out[i] = newEntryResponse(e)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) ledgerHandler(w http.ResponseWriter, r *http.Request) {
	ds := chi.URLParam(r, "dataset")
	records, err := s.cfg.Ledger.List(r.Context(), ds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if len(records) == 0 {
		s.writeError(w, fmt.Errorf("dataset %s: %w", ds, ledger.ErrNotFound))
		return
	}
	out := make([]recordResponse, len(records))
	for i, rec := range records {
		out[i] = recordResponse{
			Dataset:         rec.Dataset,
			Token:           rec.Token,
			Sequence:        rec.Sequence,
			State:           rec.State,
			PriorState:      rec.PriorState,
			Attempts:        rec.Attempts,
			OpID:            rec.OpID,
			Cause:           rec.Cause,
			Stats:           rec.Stats,
			CleanedLocation: rec.CleanedLocation,
			CreatedAt:       rec.CreatedAt,
			UpdatedAt:       rec.UpdatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) lineageHandler(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	sources, err := s.cfg.Lineage.Sources(r.Context(), table)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"table": table, "sources": sources})
}
