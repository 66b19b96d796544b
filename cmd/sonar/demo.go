package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pysugar/go-sonar/internal/logging"
	"github.com/pysugar/go-sonar/internal/sonar/collector"
	"github.com/pysugar/go-sonar/internal/sonar/middleware"
	"github.com/pysugar/go-sonar/internal/sonar/scratch"
)

// Note is the single table of the demo application.
type Note struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (Note) TableName() string { return "demo_notes" }

// userHeader names the demo principal; real applications call
// middleware.SetUser from their authentication middleware.
const userHeader = "X-Demo-User"

func mountDemo(r chi.Router, db *gorm.DB) {
	r.Get("/", listNotes(db))
	r.Post("/notes", createNote(db))
	r.Get("/notes/{id}", getNote(db))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
}

func demoUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name := r.Header.Get(userHeader); name != "" {
			middleware.SetUser(r.Context(), &collector.UserInfo{
				UserID:   name,
				Username: name,
				Email:    name + "@example.com",
			})
		}
		next.ServeHTTP(w, r)
	})
}

func demoSession(r *http.Request) map[string]any {
	session := map[string]any{}
	for _, c := range r.Cookies() {
		session[c.Name] = c.Value
	}
	return session
}

func listNotes(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var notes []Note
		if err := db.WithContext(r.Context()).Order("id DESC").Limit(50).Find(&notes).Error; err != nil {
			scratch.CaptureError(r.Context(), err)
			http.Error(w, "failed to list notes", http.StatusInternalServerError)
			return
		}
		scratch.Dump(r.Context(), len(notes))
		writeJSON(w, http.StatusOK, notes)
	}
}

func createNote(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var note Note
		if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
			scratch.CaptureError(r.Context(), err)
			http.Error(w, "invalid note", http.StatusBadRequest)
			return
		}
		if note.Title == "" {
			logging.FromContext(r.Context()).Warn("note without title rejected")
			http.Error(w, "title is required", http.StatusBadRequest)
			return
		}
		note.ID = 0
		if err := db.WithContext(r.Context()).Create(&note).Error; err != nil {
			scratch.CaptureError(r.Context(), err)
			http.Error(w, "failed to save note", http.StatusInternalServerError)
			return
		}
		scratch.Event(r.Context(), "note.created", map[string]any{"id": note.ID, "title": note.Title},
			scratch.WithTags("notes"))
		logging.FromContext(r.Context()).Info("note created", zap.Uint("id", note.ID))
		writeJSON(w, http.StatusCreated, note)
	}
}

func getNote(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		var note Note
		err = db.WithContext(r.Context()).First(&note, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "note not found", http.StatusNotFound)
			return
		}
		if err != nil {
			scratch.CaptureError(r.Context(), err)
			http.Error(w, "failed to load note", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, note)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
