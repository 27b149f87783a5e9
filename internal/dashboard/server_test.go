package dashboard

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avilpage/autohedger/internal/app"
	"github.com/avilpage/autohedger/internal/catalog"
	"github.com/avilpage/autohedger/internal/mock"
	"github.com/avilpage/autohedger/internal/session"
	"github.com/avilpage/autohedger/internal/settings"
)

func quietLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, authToken string, loggedIn bool) *Server {
	t.Helper()
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "instruments.csv")
	require.NoError(t, mock.WriteSampleCatalog(catalogPath))
	discard := log.New(io.Discard, "", 0)
	cat := catalog.New(catalogPath, discard)

	store, err := settings.NewStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	sess := session.NewManager(mock.NewBroker(), store, discard, "")
	a := app.New(sess, cat, store, "", "", 10, discard)
	if loggedIn {
		_, err := a.Login("PAPER1", "hunter2", "123456")
		require.NoError(t, err)
	}

	return NewServer(Config{Port: 0, AuthToken: authToken}, a, quietLogrus())
}

func TestHealthSkipsAuth(t *testing.T) {
	s := newTestServer(t, "secret", false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := newTestServer(t, "secret", false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("X-Auth-Token", "secret")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportBeforeCalculation(t *testing.T) {
	s := newTestServer(t, "", true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/report", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculateRequiresSession(t *testing.T) {
	s := newTestServer(t, "", false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calculate", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCalculateToggleAndPlace(t *testing.T) {
	s := newTestServer(t, "", true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calculate", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report app.HedgeReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotEmpty(t, report.Proposals)
	id := report.Proposals[0].ID

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proposals/"+id+"/toggle", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var toggled struct {
		Approved bool `json:"approved"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &toggled))
	assert.False(t, toggled.Approved)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/proposals/missing/toggle", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []struct {
		ContractSymbol string `json:"contract_symbol"`
		OrderID        string `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1, "the vetoed proposal must not be placed")
	assert.NotEmpty(t, results[0].OrderID)

	// The report was consumed by placement.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIndexRenders(t *testing.T) {
	s := newTestServer(t, "", true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calculate", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "PIDILITIND")
	assert.Contains(t, body, "Paper Trader")
}
