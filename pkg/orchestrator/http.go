package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (o *Orchestrator) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Get("/last", o.httpLast)
	r.Get("/plan/{pkg}", o.httpPlan)

	return r
}

func (o *Orchestrator) httpLast(w http.ResponseWriter, r *http.Request) {
	res := o.Last()
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	jsonReply(w, http.StatusOK, res)
}

func (o *Orchestrator) httpPlan(w http.ResponseWriter, r *http.Request) {
	optional := r.URL.Query().Get("optional") != ""
	plan, err := o.Plan(chi.URLParam(r, "pkg"), optional)
	if err != nil {
		jsonError(w, err, http.StatusUnprocessableEntity)
		return
	}
	jsonReply(w, http.StatusOK, plan)
}

func jsonReply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, err error, code int) {
	jsonReply(w, code, struct{ Error string }{err.Error()})
}
