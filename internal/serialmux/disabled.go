package serialmux

import (
	"context"
	"net/http"

	"github.com/banshee-data/colocate/internal/httputil"
)

// DisabledSerialMux stands in for the tracker bridge when poses come from
// somewhere else, such as a replayed script. It never emits a line and
// accepts every command, but its subscriber channels close on Unsubscribe
// and Close like the real mux.
type DisabledSerialMux struct {
	subs fanout
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.subs.add(0) }

func (d *DisabledSerialMux) Unsubscribe(id string) { d.subs.remove(id) }

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.subs.close()
	return nil
}

func (d *DisabledSerialMux) Initialise() error { return nil }

// AttachAdminRoutes reports the bridge as disabled at /debug/tracker.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/tracker", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"enabled":     false,
			"subscribers": d.subs.len(),
		})
	})
}
