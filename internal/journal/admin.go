package journal

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/colocate/internal/httputil"
)

// AttachAdminRoutes mounts tailsql at /debug/tailsql/ plus JSON and PNG views
// of the recorded rounds.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.db, &tailsql.DBOptions{
		Label: "Calibration journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("rounds", "recorded calibration rounds (?limit=N)", func(w http.ResponseWriter, r *http.Request) {
		rounds, ok := j.roundsForRequest(w, r)
		if !ok {
			return
		}
		httputil.WriteJSONOK(w, rounds)
	})

	debug.HandleFunc("rounds.png", "plot of recorded calibration rounds (?limit=N)", func(w http.ResponseWriter, r *http.Request) {
		rounds, ok := j.roundsForRequest(w, r)
		if !ok {
			return
		}
		if len(rounds) == 0 {
			httputil.NotFound(w, "no rounds recorded")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := WritePlot(w, rounds); err != nil && !errors.Is(err, ErrNoRounds) {
			logf("failed to render plot: %v", err)
		}
	})
}

func (j *Journal) roundsForRequest(w http.ResponseWriter, r *http.Request) ([]Round, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	limit := DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return nil, false
		}
		limit = n
	}
	rounds, err := j.Rounds(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return rounds, true
}
