package graph

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/the-maldridge/nport/pkg/types"
)

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (m *Manager) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Get("/atom", m.httpDumpAtom)
	r.Get("/pkgs/{pkg}", m.httpDumpPkg)
	r.Get("/order/{pkg}", m.httpInstallOrder)
	r.Get("/uninstall/{pkg}", m.httpUninstallOrder)
	r.Get("/conflicts", m.httpConflicts)
	r.Get("/missing", m.httpMissing)
	r.Get("/dot", m.httpDOT)

	r.Post("/sync", m.httpSync)

	return r
}

func (m *Manager) httpDumpAtom(w http.ResponseWriter, r *http.Request) {
	jsonReply(w, http.StatusOK, m.graph.Export())
}

func (m *Manager) httpDumpPkg(w http.ResponseWriter, r *http.Request) {
	name := m.graph.Resolve(chi.URLParam(r, "pkg"))
	meta, ok := m.graph.Node(name)
	if !ok {
		jsonError(w, NewErrUnknownPackage(name), http.StatusNotFound)
		return
	}

	out := struct {
		Name       string
		Meta       Meta
		Requires   []types.Requirement
		RequiredBy []string
	}{
		Name:       name,
		Meta:       meta,
		Requires:   m.graph.Dependencies(name),
		RequiredBy: m.graph.ReverseDependencies(name, false),
	}
	jsonReply(w, http.StatusOK, out)
}

func (m *Manager) httpInstallOrder(w http.ResponseWriter, r *http.Request) {
	optional := r.URL.Query().Get("optional") != ""
	order, err := m.graph.InstallOrder([]string{chi.URLParam(r, "pkg")}, optional)
	if err != nil {
		jsonError(w, err, statusFor(err))
		return
	}
	jsonReply(w, http.StatusOK, order)
}

func (m *Manager) httpUninstallOrder(w http.ResponseWriter, r *http.Request) {
	order, err := m.graph.UninstallOrder([]string{chi.URLParam(r, "pkg")})
	if err != nil {
		jsonError(w, err, statusFor(err))
		return
	}
	jsonReply(w, http.StatusOK, order)
}

func (m *Manager) httpConflicts(w http.ResponseWriter, r *http.Request) {
	c := m.graph.DetectConflicts(nil)
	if c == nil {
		c = []Conflict{}
	}
	jsonReply(w, http.StatusOK, c)
}

func (m *Manager) httpMissing(w http.ResponseWriter, r *http.Request) {
	e := m.graph.Missing()
	if e == nil {
		e = []Edge{}
	}
	jsonReply(w, http.StatusOK, e)
}

func (m *Manager) httpDOT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m.graph.DOT(r.URL.Query().Get("optional") != "")))
}

func (m *Manager) httpSync(w http.ResponseWriter, r *http.Request) {
	changed, err := m.Sync()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonReply(w, http.StatusOK, struct {
		Rev     string
		Changed []string
	}{m.graph.Rev(), changed})
}

func statusFor(err error) int {
	switch err.(type) {
	case ErrUnknownPackage:
		return http.StatusNotFound
	case ErrCycle:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func jsonReply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, err error, code int) {
	out := struct {
		Error string
	}{
		Error: err.Error(),
	}
	jsonReply(w, code, out)
}
