package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/go-sonar/internal/db"
	"github.com/pysugar/go-sonar/internal/panel"
	"github.com/pysugar/go-sonar/internal/sonar/collector"
	"github.com/pysugar/go-sonar/internal/sonar/middleware"
	"github.com/pysugar/go-sonar/internal/sonar/querylog"
	"github.com/pysugar/go-sonar/internal/store"
)

func newDemoServer(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	gdb, err := db.InitDB(fmt.Sprintf("file:demo_%s?mode=memory&cache=shared", t.Name()), querylog.Plugin{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&Note{}))
	st := store.New(gdb, nil)

	r := chi.NewRouter()
	recorder := middleware.New(middleware.Options{
		Store:    st,
		Excludes: []string{panelPrefix + "/"},
		Session:  demoSession,
		Resolver: middleware.NewChiResolver(r),
	})
	r.Use(chimw.Recoverer)
	r.Use(recorder.Handler)
	r.Use(demoUser)
	mountDemo(r, gdb)
	r.Mount(panelPrefix, panel.Routes(st, ""))
	return r, st
}

func TestDemo_CreateNoteIsCaptured(t *testing.T) {
	h, st := newDemoServer(t)

	req := httptest.NewRequest("POST", "/notes", strings.NewReader(`{"title":"hello","body":"world"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx := context.Background()
	page, err := st.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	captured := page.Requests[0]
	assert.Equal(t, "POST", captured.Verb)
	assert.Equal(t, "201", captured.Status)
	assert.GreaterOrEqual(t, captured.QueryCount, 1)

	details, err := st.FirstEntry(ctx, captured.ID, collector.CategoryDetails)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(details.Data, &doc))
	assert.Equal(t, "alice", doc["user_info"].(map[string]any)["username"])
	assert.Contains(t, doc["view_func"], "createNote")

	events, err := st.RequestEntries(ctx, captured.ID, collector.CategoryEvents)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Data), "note.created")
}

func TestDemo_PanelIsNotCaptured(t *testing.T) {
	h, st := newDemoServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", panelPrefix+"/requests", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total"])

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalRequests)
}

func TestDemo_PanicIsRecorded(t *testing.T) {
	h, st := newDemoServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ctx := context.Background()
	page, err := st.ListRequests(ctx, store.RequestFilter{Path: "/boom"})
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, "500", page.Requests[0].Status)

	exc, err := st.FirstEntry(ctx, page.Requests[0].ID, collector.CategoryException)
	require.NoError(t, err)
	assert.Contains(t, string(exc.Data), "boom")
}

func TestDemoSession(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: "abc"})
	assert.Equal(t, map[string]any{"sessionid": "abc"}, demoSession(req))
}
