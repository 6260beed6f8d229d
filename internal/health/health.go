package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Status is the body served on /healthz.
type Status struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Check is one named dependency check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Postgres pings a connection pool.
func Postgres(p Pinger) Check {
	return Check{Name: "database", Run: p.Ping}
}

// NSQ pings an nsqd connection; *nsq.Producer satisfies the argument.
func NSQ(p interface{ Ping() error }) Check {
	return Check{Name: "nsqd", Run: func(context.Context) error { return p.Ping() }}
}

// HTTPHandler reports healthy only when every check passes within a second.
func HTTPHandler(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok"}

		if len(checks) > 0 {
			st.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
			err := c.Run(ctx)
			cancel()
			if err != nil {
				st.OK = false
				st.Message = c.Name + " check failed"
				st.Checks[c.Name] = err.Error()
				continue
			}
			st.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
