package panel

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pysugar/go-sonar/internal/sonar/collector"
	"github.com/pysugar/go-sonar/internal/store"
)

// AdminUser is the basic-auth user name guarding the panel.
const AdminUser = "admin"

// Routes returns the panel router. With a non-empty adminPassword every
// route requires HTTP basic auth as AdminUser.
func Routes(s *store.Store, adminPassword string) http.Handler {
	r := chi.NewRouter()
	if adminPassword != "" {
		r.Use(chimw.BasicAuth("sonar", map[string]string{AdminUser: adminPassword}))
	}

	r.Get("/requests", ListRequestsHandler(s))
	r.Get("/requests/{id}", RequestDetailHandler(s))
	r.Get("/requests/{id}/queries/{index}", QueryDetailHandler(s))
	r.Get("/requests/{id}/{category}", CategoryDetailHandler(s))

	r.Get("/exceptions", CategoryPanelHandler(s, collector.CategoryException))
	r.Get("/dumps", CategoryPanelHandler(s, collector.CategoryDumps))
	r.Get("/events", CategoryPanelHandler(s, collector.CategoryEvents))
	r.Get("/logs", CategoryPanelHandler(s, collector.CategoryLogs))
	r.Get("/queries", QueriesPanelHandler(s))

	r.Get("/stats", StatsHandler(s))
	r.Post("/clear", ClearHandler(s))
	return r
}
