package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/sector"
	"github.com/engramdev/engram/internal/store"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := q.Get("q")
	if query == "" {
		http.Error(w, `{"error":"q required"}`, http.StatusBadRequest)
		return
	}

	limit := 10
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	var filters engine.Filters
	if raw := q.Get("sectors"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			sec := sector.Sector(strings.TrimSpace(name))
			if !sector.Valid(sec) {
				http.Error(w, `{"error":"unknown sector `+string(sec)+`"}`, http.StatusBadRequest)
				return
			}
			filters.Sectors = append(filters.Sectors, sec)
		}
	}
	if raw := q.Get("min_salience"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, `{"error":"min_salience must be a number"}`, http.StatusBadRequest)
			return
		}
		filters.MinSalience = f
	}
	filters.Debug = q.Get("debug") == "true"

	results, err := s.engine.Search.Search(r.Context(), query, limit, filters)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, `{"error":"q required"}`, http.StatusBadRequest)
		return
	}
	n := 5
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, `{"error":"n must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		n = parsed
	}

	out, err := s.engine.Search.ContextForPrompt(r.Context(), query, n)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"context": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.CollectStats()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string   `json:"content"`
		Type       string   `json:"type"`
		Tags       []string `json:"tags"`
		Confidence float64  `json:"confidence"`
		Sector     string   `json:"sector"`
		SourceApp  string   `json:"source_app"`
		ExpiresAt  *string  `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content required"}`, http.StatusBadRequest)
		return
	}

	cand := engine.Candidate{
		Content:    req.Content,
		Type:       req.Type,
		Tags:       req.Tags,
		Confidence: req.Confidence,
		SourceApp:  req.SourceApp,
	}
	if req.Sector != "" {
		sec := sector.Sector(req.Sector)
		if !sector.Valid(sec) {
			http.Error(w, `{"error":"unknown sector `+req.Sector+`"}`, http.StatusBadRequest)
			return
		}
		cand.Sector = sec
	}
	if req.ExpiresAt != nil {
		ts, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			http.Error(w, `{"error":"expires_at must be RFC 3339"}`, http.StatusBadRequest)
			return
		}
		cand.ExpiresAt = &ts
	}

	m, absorbed, err := s.engine.Ingest(r.Context(), cand)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if absorbed {
		json.NewEncoder(w).Encode(map[string]any{"status": "consolidated"})
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "created",
		"memory": m,
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	var memories []store.Memory
	var err error
	if raw := r.URL.Query().Get("sector"); raw != "" {
		sec := sector.Sector(raw)
		if !sector.Valid(sec) {
			http.Error(w, `{"error":"unknown sector `+raw+`"}`, http.StatusBadRequest)
			return
		}
		memories, err = s.db.MemoriesBySector(sec)
	} else {
		memories, err = s.db.ActiveMemories()
	}
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(memories),
		"memories": memories,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")

	m, err := s.db.GetMemory(id)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if m == nil || !m.IsActive {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// handleForgetMemory soft-deletes by default; ?hard=true removes the row
// and its waypoint edges for good.
func (s *Server) handleForgetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")

	m, err := s.db.GetMemory(id)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if m == nil || !m.IsActive {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		err = s.db.DeleteMemory(id)
	} else {
		err = s.db.Forget(id)
	}
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	s.engine.Search.InvalidateCache()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "forgotten"})
}

func (s *Server) handleAddWaypoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceID string  `json:"source_id"`
		TargetID string  `json:"target_id"`
		Weight   float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.SourceID == "" || req.TargetID == "" {
		http.Error(w, `{"error":"source_id and target_id required"}`, http.StatusBadRequest)
		return
	}

	if err := s.db.UpsertWaypoint(req.SourceID, req.TargetID, req.Weight); err != nil {
		if errors.Is(err, store.ErrInvalidWaypoint) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "linked"})
}
