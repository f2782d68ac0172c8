package transport

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/colocate/internal/httputil"
)

type adminStatus struct {
	Self  Peer       `json:"self"`
	Peers []PeerInfo `json:"peers"`
	Send  SendStats  `json:"send"`
}

// AttachAdminRoutes mounts /debug/peers, listing every known peer and the
// send counters.
func (a *Adapter) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("peers", "known peers and send counters", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, adminStatus{
			Self:  a.Self(),
			Peers: a.Peers(),
			Send:  a.SendStats(),
		})
	})
}
