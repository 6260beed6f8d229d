package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePool struct{ err error }

func (f fakePool) Ping(context.Context) error { return f.err }

type fakeProducer struct{ err error }

func (f fakeProducer) Ping() error { return f.err }

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantCode   int
		wantOK     bool
		wantChecks map[string]string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
			wantOK:   true,
		},
		{
			name:       "healthy database",
			checks:     []Check{Postgres(fakePool{})},
			wantCode:   http.StatusOK,
			wantOK:     true,
			wantChecks: map[string]string{"database": "ok"},
		},
		{
			name:       "database down",
			checks:     []Check{Postgres(fakePool{err: context.DeadlineExceeded})},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": context.DeadlineExceeded.Error()},
		},
		{
			name:       "nsqd down, database fine",
			checks:     []Check{Postgres(fakePool{}), NSQ(fakeProducer{err: errors.New("not connected")})},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "ok", "nsqd": "not connected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HTTPHandler(tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var st Status
			if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if st.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", st.OK, tt.wantOK)
			}
			if len(st.Checks) != len(tt.wantChecks) {
				t.Errorf("Checks = %v, want %v", st.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if st.Checks[k] != v {
					t.Errorf("Checks[%q] = %q, want %q", k, st.Checks[k], v)
				}
			}
		})
	}
}
