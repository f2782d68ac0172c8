package calibration

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/colocate/internal/httputil"
	"github.com/banshee-data/colocate/internal/serialmux"
)

// AttachAdminRoutes mounts /debug/calibration and /debug/calibration-tail.
func (c *Coordinator) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("calibration", "calibration state snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, c.Snapshot())
	})
	debug.HandleFunc("calibration-tail", "stream calibration snapshots", func(w http.ResponseWriter, r *http.Request) {
		id, ch := c.Subscribe()
		defer c.Unsubscribe(id)
		serialmux.ServeSSE(w, r, ch, func(s Snapshot) (string, error) {
			b, err := json.Marshal(s)
			return string(b), err
		})
	})
}
