// Package panel serves the captured data as a JSON API: the request list,
// request detail, per-category detail views and cross-request category
// panels.
package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pysugar/go-sonar/internal/db/models"
	"github.com/pysugar/go-sonar/internal/logging"
	"github.com/pysugar/go-sonar/internal/sonar/collector"
	"github.com/pysugar/go-sonar/internal/store"
	"github.com/pysugar/go-sonar/internal/util"
)

// multiEntry categories may hold several entries per request; their
// detail view returns all of them.
var multiEntry = map[string]bool{
	collector.CategoryDumps:  true,
	collector.CategoryEvents: true,
	collector.CategoryLogs:   true,
}

// ListRequestsHandler returns one page of captured requests, newest first,
// filtered by the verb, path and status query parameters.
func ListRequestsHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RequestFilter{
			Verb:   q.Get("verb"),
			Path:   q.Get("path"),
			Status: q.Get("status"),
			Page:   1,
		}
		if page, err := strconv.Atoi(q.Get("page")); err == nil {
			filter.Page = page
		}

		page, err := s.ListRequests(r.Context(), filter)
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"requests":  page.Requests,
			"total":     page.Total,
			"page":      page.Page,
			"pages":     page.Pages,
			"page_size": page.PageSize,
			"filters": map[string]string{
				"verb":   filter.Verb,
				"path":   filter.Path,
				"status": filter.Status,
			},
		})
	}
}

// RequestDetailHandler returns a request with its details entry and marks
// it read.
func RequestDetailHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.MarkRead(r.Context(), id); err != nil {
			storeError(w, r, err)
			return
		}
		record, err := s.GetRequest(r.Context(), id)
		if err != nil {
			storeError(w, r, err)
			return
		}

		details, err := firstData(r, s, id, collector.CategoryDetails)
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"request": record,
			"details": details,
		})
	}
}

// CategoryDetailHandler returns one category of a request: the first entry
// for single-entry categories, every entry for dumps, events and logs.
func CategoryDetailHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		category := chi.URLParam(r, "category")
		if _, err := s.GetRequest(r.Context(), id); err != nil {
			storeError(w, r, err)
			return
		}

		if multiEntry[category] {
			entries, err := s.RequestEntries(r.Context(), id, category)
			if err != nil {
				serverError(w, r, err)
				return
			}
			items := make([]json.RawMessage, len(entries))
			for i, e := range entries {
				items[i] = json.RawMessage(e.Data)
			}
			writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "category": category, "data": items})
			return
		}

		data, err := firstData(r, s, id, category)
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "category": category, "data": data})
	}
}

// QueryDetailHandler returns a single executed query of a request by index.
func QueryDetailHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			writeError(w, http.StatusBadRequest, "invalid query index")
			return
		}

		entry, err := s.FirstEntry(r.Context(), id, collector.CategoryQueries)
		if err != nil {
			storeError(w, r, err)
			return
		}
		executed := executedQueries(entry)
		if index >= len(executed) {
			writeError(w, http.StatusNotFound, "query not found")
			return
		}
		query := executed[index]
		query["request_id"] = id
		query["index"] = index
		writeJSON(w, http.StatusOK, query)
	}
}

// CategoryPanelHandler lists the entries of category across requests,
// newest first.
func CategoryPanelHandler(s *store.Store, category string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.EntriesByCategory(r.Context(), category, limitParam(r))
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"category": category,
			"entries":  entries,
			"count":    len(entries),
		})
	}
}

// QueriesPanelHandler flattens the executed queries of every request into
// one list, newest request first.
func QueriesPanelHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.EntriesByCategory(r.Context(), collector.CategoryQueries, limitParam(r))
		if err != nil {
			serverError(w, r, err)
			return
		}
		queries := []map[string]any{}
		for i := range entries {
			for index, q := range executedQueries(&entries[i]) {
				q["created_at"] = entries[i].CreatedAt.Format(time.RFC3339Nano)
				q["request_id"] = entries[i].RequestID
				q["index"] = index
				queries = append(queries, q)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"queries": queries, "count": len(queries)})
	}
}

// StatsHandler returns aggregated request statistics.
func StatsHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Stats(r.Context())
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ClearHandler purges all captured data.
func ClearHandler(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.Purge(r.Context())
		if err != nil {
			serverError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "deleted": result})
	}
}

func firstData(r *http.Request, s *store.Store, id, category string) (json.RawMessage, error) {
	entry, err := s.FirstEntry(r.Context(), id, category)
	if errors.Is(err, store.ErrNotFound) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(entry.Data), nil
}

func executedQueries(entry *models.DataEntry) []map[string]any {
	var doc struct {
		Executed []map[string]any `json:"executed_queries"`
	}
	if err := json.Unmarshal(entry.Data, &doc); err != nil {
		return nil
	}
	return doc.Executed
}

func limitParam(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	serverError(w, r, err)
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("panel request failed",
		zap.String("path", util.TruncateLog(r.URL.RequestURI(), util.DefaultLogMaxLen)),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
