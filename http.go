package symphra

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatusHandler returns a read-only HTTP surface over the manager's
// registry, intended for operator dashboards and health tooling:
//
//	GET /modules          all modules with state and metadata
//	GET /modules/{name}   one module, 404 when unknown
//
// The handler never mutates modules; lifecycle control stays with the
// hosting process.
func StatusHandler(m *Manager) http.Handler {
	r := chi.NewRouter()

	r.Get("/modules", func(w http.ResponseWriter, req *http.Request) {
		names := m.registry.List()
		infos := make([]ModuleInfo, 0, len(names))
		for _, name := range names {
			info, err := m.registry.Info(name)
			if err != nil {
				continue
			}
			infos = append(infos, info)
		}
		writeJSON(w, http.StatusOK, infos)
	})

	r.Get("/modules/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		info, err := m.registry.Info(name)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
