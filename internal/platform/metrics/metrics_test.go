package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v2/user/{user_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2/user/ad|Mozilla-LDAP|jdoe", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Requests.WithLabelValues("/v2/user/{user_id}", "GET", "404")))
}

func TestNilSafeCounters(t *testing.T) {
	var m *Metrics
	m.IncrementProfilesCreated()
	m.IncrementSaveConflicts()

	live := New(prometheus.NewRegistry())
	live.IncrementProfilesCreated()
	live.IncrementSaveConflicts()
	assert.Equal(t, 1.0, promtest.ToFloat64(live.ProfilesCreated))
	assert.Equal(t, 1.0, promtest.ToFloat64(live.SaveConflicts))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).IncrementProfilesCreated()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "cis_profiles_created_total 1")
}
