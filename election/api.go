package election

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/krantius/ring-election/shared/logging"
)

type siteView struct {
	Index    int    `json:"index"`
	Address  string `json:"address"`
	Aptitude int32  `json:"aptitude"`
}

// Router exposes the node over HTTP under /api
func (n *Node) Router() *mux.Router {
	r := mux.NewRouter()
	sr := r.PathPrefix("/api").Subrouter()
	sr.Path("/status").Methods("GET").HandlerFunc(n.statusHandler)
	sr.Path("/leader").Methods("GET").HandlerFunc(n.leaderHandler)
	sr.Path("/election").Methods("POST").HandlerFunc(n.electionHandler)

	return r
}

func (n *Node) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.Status())
}

func (n *Node) leaderHandler(w http.ResponseWriter, r *http.Request) {
	s, err := n.Elected(r.Context())
	if err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, ErrClosed) && !errors.Is(err, ErrHalted) {
			status = http.StatusGatewayTimeout
		}

		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, siteView{
		Index:    s.Index,
		Address:  s.Addr.String(),
		Aptitude: s.Aptitude,
	})
}

func (n *Node) electionHandler(w http.ResponseWriter, r *http.Request) {
	n.StartElection()

	writeJSON(w, http.StatusAccepted, n.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warningf("Writing response failed: %v", err)
	}
}
