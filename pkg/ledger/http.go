package ledger

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPEntry provides the mountpoint for this service into the shared
// webserver routing tree.
func (lg *Ledger) HTTPEntry() chi.Router {
	r := chi.NewRouter()

	r.Get("/", lg.httpList)
	r.Get("/{pkg}", lg.httpGet)

	return r
}

func (lg *Ledger) httpList(w http.ResponseWriter, r *http.Request) {
	entries, err := lg.List()
	if err != nil {
		jsonError(w, err, http.StatusInternalServerError)
		return
	}
	jsonReply(w, http.StatusOK, entries)
}

func (lg *Ledger) httpGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "pkg")
	e, ok, err := lg.Get(name)
	switch {
	case err != nil:
		jsonError(w, err, http.StatusInternalServerError)
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		jsonReply(w, http.StatusOK, e)
	}
}

func jsonReply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.Encode(v)
}

func jsonError(w http.ResponseWriter, err error, code int) {
	jsonReply(w, code, struct{ Error string }{err.Error()})
}
