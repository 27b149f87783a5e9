package catalog

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange
101,1,PIDILITIND23DECFUT,PIDILITE INDUSTRIES,0,2023-12-28,0,0.05,100,FUT,NFO-FUT,NFO
102,1,PIDILITIND23DEC2200PE,PIDILITE INDUSTRIES,0,2023-12-28,2200,0.05,100,PE,NFO-OPT,NFO
103,1,PIDILITIND23DEC2300PE,PIDILITE INDUSTRIES,0,2023-12-28,2300,0.05,100,PE,NFO-OPT,NFO
104,1,PIDILITIND23DEC2500PE,PIDILITE INDUSTRIES,0,2023-12-28,2500,0.05,100,PE,NFO-OPT,NFO
105,1,PIDILITIND23DEC2700CE,PIDILITE INDUSTRIES,0,2023-12-28,2700,0.05,100,CE,NFO-OPT,NFO
106,1,PIDILITIND23DEC2800CE,PIDILITE INDUSTRIES,0,2023-12-28,2800,0.05,100,CE,NFO-OPT,NFO
107,1,NIFTY23DEC21000CE,NIFTY,0,2023-12-28,21000,0.05,50,CE,NFO-OPT,NFO
108,1,RELIANCE,RELIANCE INDUSTRIES,0,,0,0.05,1,EQ,NSE,NSE
`

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeCatalogFile(t *testing.T, csv string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruments.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return path
}

func loadedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(writeCatalogFile(t, sampleCSV), discard())
	require.NoError(t, c.Ensure(context.Background()))
	return c
}

func TestEnsureParsesFreshFile(t *testing.T) {
	c := loadedCatalog(t)
	assert.Equal(t, 8, c.Len())

	lot, err := c.LotSize("PIDILITIND23DECFUT")
	require.NoError(t, err)
	assert.Equal(t, 100, lot)

	lot, err = c.LotSize("NIFTY23DEC21000CE")
	require.NoError(t, err)
	assert.Equal(t, 50, lot)
}

func TestLotSizeUnknownSymbol(t *testing.T) {
	c := loadedCatalog(t)
	_, err := c.LotSize("TCS23DECFUT")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSymbol))
	assert.Contains(t, err.Error(), "TCS23DECFUT")
}

func TestEnsureDownloadsWhenFileMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "instruments.csv")
	c := New(path, discard(), WithURL(server.URL))
	require.NoError(t, c.Ensure(context.Background()))

	assert.Equal(t, 8, c.Len())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestEnsureRefreshesStaleFile(t *testing.T) {
	downloads := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	path := writeCatalogFile(t, "tradingsymbol,instrument_type,strike,lot_size,exchange\n")
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	c := New(path, discard(), WithURL(server.URL))
	require.NoError(t, c.Ensure(context.Background()))

	assert.Equal(t, 1, downloads)
	assert.Equal(t, 8, c.Len())
}

func TestEnsureKeepsFreshFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("fresh catalog should not be downloaded again")
	}))
	defer server.Close()

	c := New(writeCatalogFile(t, sampleCSV), discard(), WithURL(server.URL))
	require.NoError(t, c.Ensure(context.Background()))
	assert.Equal(t, 8, c.Len())

	// Second call reuses the parsed copy.
	require.NoError(t, c.Ensure(context.Background()))
}

func TestEnsureFallsBackToStaleCopyOnDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	path := writeCatalogFile(t, sampleCSV)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	c := New(path, discard(), WithURL(server.URL))
	require.NoError(t, c.Ensure(context.Background()))
	assert.Equal(t, 8, c.Len())
}

func TestEnsureFailsWhenNoCopyAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "instruments.csv")
	c := New(path, discard(), WithURL(server.URL))
	err := c.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instrument catalog unavailable")
}

func TestParseCSVMissingColumn(t *testing.T) {
	path := writeCatalogFile(t, "tradingsymbol,strike\nFOO,100\n")
	c := New(path, discard())
	err := c.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "instrument_type"`)
}
