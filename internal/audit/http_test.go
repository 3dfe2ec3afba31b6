package audit_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable/internal/audit"
	"captable/internal/audit/store/memory"
)

// passThrough stands in for the admin guard; auth behavior is covered by the
// middleware package tests.
func passThrough(next http.Handler) http.Handler { return next }

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := audit.NewService(store, testLogger())
	handler := audit.NewHTTPHandler(svc, testLogger(), passThrough)

	r := chi.NewRouter()
	handler.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func TestHTTPListEvents_EmptyTrailReturnsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/audit/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body), "empty result is an array, not null")
}

func TestHTTPGetEvent_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/audit/events/12345")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPGetEvent_ByEventUUID(t *testing.T) {
	srv, store := newTestServer(t)
	rec := insertRecord(t, store, audit.Record{EventType: "user.login", Action: "login"})

	resp, err := http.Get(srv.URL + "/audit/events/" + rec.EventID.String())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPListEvents_BadLimitRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/audit/events?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPExport_CSVSetsDisposition(t *testing.T) {
	srv, store := newTestServer(t)
	insertRecord(t, store, audit.Record{EventType: "data.export", Action: "export"})

	resp, err := http.Get(srv.URL + "/audit/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment; filename=audit_events_")
}

func TestHTTPExport_UnknownFormatRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/audit/export?format=xml")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPCleanup(t *testing.T) {
	srv, store := newTestServer(t)
	insertRecord(t, store, audit.Record{
		EventType: "user.login",
		Action:    "login",
		CreatedAt: time.Now().UTC().AddDate(0, 0, -400),
	})

	resp, err := http.Post(srv.URL+"/audit/cleanup?days_to_keep=365", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
