package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	return p.err
}

// The overall status tracks database connectivity, and the database component
// is always reported.
func TestHealthCheckReflectsDatabaseState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("overall status follows database health", prop.ForAll(
		func(version string, dbHealthy bool) bool {
			pinger := &stubPinger{}
			if !dbHealthy {
				pinger.err = errors.New("connection refused")
			}

			response := NewChecker(pinger, version).Check(context.Background())

			db, ok := response.Components["database"]
			if !ok {
				return false
			}
			if response.Version != version {
				return false
			}
			if dbHealthy {
				return response.Status == StatusHealthy && db.Status == StatusHealthy
			}
			return response.Status == StatusUnhealthy && db.Status == StatusUnhealthy
		},
		gen.RegexMatch("v?[0-9]+\\.[0-9]+\\.[0-9]+"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
	}{
		{"healthy database returns 200", nil, 200},
		{"unhealthy database returns 503", errors.New("down"), 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(&stubPinger{err: tt.pingErr}, "v1.0.0")

			rec := httptest.NewRecorder()
			checker.Handler()(rec, httptest.NewRequest("GET", "/health", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var response Response
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("invalid response body: %v", err)
			}
			if _, ok := response.Components["database"]; !ok {
				t.Error("response missing database component")
			}
		})
	}
}

func TestHealthCheckWithoutDatabase(t *testing.T) {
	response := NewChecker(nil, "dev").Check(context.Background())
	if response.Status != StatusUnhealthy {
		t.Errorf("status = %s, want %s", response.Status, StatusUnhealthy)
	}
}
