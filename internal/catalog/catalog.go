// Package catalog maintains the local copy of the exchange's tradable
// instrument dump and answers lot-size and strike lookups against it.
//
// The catalog is a CSV file downloaded wholesale from the broker. The cached
// copy is refreshed when it is older than the configured maximum age;
// lookups always run against the freshest available copy.
package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/avilpage/autohedger/internal/retry"
)

// DefaultURL is the full instrument dump published by Kite.
const DefaultURL = "https://api.kite.trade/instruments"

// DefaultMaxAge is the staleness threshold after which the cached dump is
// downloaded again.
const DefaultMaxAge = 24 * time.Hour

// ErrUnknownSymbol is returned when a trading symbol has no catalog row.
var ErrUnknownSymbol = errors.New("symbol not in instrument catalog")

// Instrument is one row of the instrument dump. Strike carries the
// exchange-reported strike column; resolver lookups parse the strike out of
// the trading symbol instead (see NearestStrike) and keep this column for
// audit display.
type Instrument struct {
	TradingSymbol  string  `json:"tradingsymbol"`
	Name           string  `json:"name"`
	Expiry         string  `json:"expiry"`
	Strike         float64 `json:"strike"`
	LotSize        int     `json:"lot_size"`
	InstrumentType string  `json:"instrument_type"`
	Segment        string  `json:"segment"`
	Exchange       string  `json:"exchange"`
}

// Catalog caches the instrument dump on disk and in memory.
type Catalog struct {
	path   string
	url    string
	maxAge time.Duration
	client *http.Client
	logger *log.Logger
	retry  retry.Config
	group  singleflight.Group

	mu          sync.RWMutex
	instruments []Instrument
	bySymbol    map[string]int
	loadedFrom  time.Time // mtime of the parsed file
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithURL overrides the download URL.
func WithURL(url string) Option {
	return func(c *Catalog) { c.url = url }
}

// WithMaxAge overrides the staleness threshold.
func WithMaxAge(d time.Duration) Option {
	return func(c *Catalog) { c.maxAge = d }
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) { c.client = client }
}

// WithRetryConfig overrides the download retry budget.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Catalog) { c.retry = cfg }
}

// New creates a catalog backed by the CSV file at path.
func New(path string, logger *log.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = log.New(os.Stderr, "catalog: ", log.LstdFlags)
	}
	c := &Catalog{
		path:   path,
		url:    DefaultURL,
		maxAge: DefaultMaxAge,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
		retry:  retry.DefaultConfig,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ensure makes the in-memory catalog current: it downloads the dump if the
// cached file is missing or older than the maximum age, and (re)parses the
// file if the memory copy is behind it. Concurrent callers share a single
// refresh.
func (c *Catalog) Ensure(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Catalog) refresh(ctx context.Context) error {
	stale := true
	if info, err := os.Stat(c.path); err == nil {
		age := time.Since(info.ModTime())
		if age <= c.maxAge {
			stale = false
		} else {
			c.logger.Printf("instrument catalog is %v old, refreshing", age.Round(time.Minute))
		}
	}

	if stale {
		if err := c.download(ctx); err != nil {
			// A stale-but-present copy is still usable; a missing one is not.
			if _, statErr := os.Stat(c.path); statErr != nil {
				return fmt.Errorf("instrument catalog unavailable: %w", err)
			}
			c.logger.Printf("catalog refresh failed, using stale copy: %v", err)
		}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("instrument catalog unavailable: %w", err)
	}

	c.mu.RLock()
	current := !c.loadedFrom.IsZero() && !info.ModTime().After(c.loadedFrom)
	c.mu.RUnlock()
	if current {
		return nil
	}

	return c.load(info.ModTime())
}

// download fetches the dump to a temp file and renames it into place so a
// failed transfer never clobbers the cached copy.
func (c *Catalog) download(ctx context.Context) error {
	return retry.Do(ctx, c.logger, c.retry, "catalog download", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				c.logger.Printf("closing catalog response body: %v", cerr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("catalog download: status %d: %s", resp.StatusCode, string(body))
		}

		if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
			return err
		}

		tmp := c.path + ".tmp"
		f, err := os.Create(tmp) // #nosec G304 -- path comes from the operator's config
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(tmp)
			return err
		}

		c.logger.Printf("downloaded instrument catalog to %s", c.path)
		return os.Rename(tmp, c.path)
	})
}

func (c *Catalog) load(mtime time.Time) error {
	f, err := os.Open(c.path) // #nosec G304 -- path comes from the operator's config
	if err != nil {
		return fmt.Errorf("opening instrument catalog: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			c.logger.Printf("closing catalog file: %v", cerr)
		}
	}()

	instruments, err := parseCSV(f)
	if err != nil {
		return fmt.Errorf("parsing instrument catalog: %w", err)
	}

	bySymbol := make(map[string]int, len(instruments))
	for i, inst := range instruments {
		// First row wins on duplicate symbols across exchanges.
		if _, ok := bySymbol[inst.TradingSymbol]; !ok {
			bySymbol[inst.TradingSymbol] = i
		}
	}

	c.mu.Lock()
	c.instruments = instruments
	c.bySymbol = bySymbol
	c.loadedFrom = mtime
	c.mu.Unlock()

	c.logger.Printf("loaded %d instruments", len(instruments))
	return nil
}

func parseCSV(r io.Reader) ([]Instrument, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"tradingsymbol", "instrument_type", "strike", "lot_size", "exchange"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var instruments []Instrument
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		strike, _ := strconv.ParseFloat(field(record, "strike"), 64)
		lotSize, _ := strconv.Atoi(field(record, "lot_size"))

		instruments = append(instruments, Instrument{
			TradingSymbol:  field(record, "tradingsymbol"),
			Name:           field(record, "name"),
			Expiry:         field(record, "expiry"),
			Strike:         strike,
			LotSize:        lotSize,
			InstrumentType: field(record, "instrument_type"),
			Segment:        field(record, "segment"),
			Exchange:       field(record, "exchange"),
		})
	}

	return instruments, nil
}

// LotSize returns the lot size for an exact trading-symbol match.
func (c *Catalog) LotSize(tradingSymbol string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.bySymbol[tradingSymbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, tradingSymbol)
	}
	return c.instruments[i].LotSize, nil
}

// Instruments returns a snapshot of the loaded rows in file order.
func (c *Catalog) Instruments() []Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Instrument, len(c.instruments))
	copy(out, c.instruments)
	return out
}

// Len reports the number of loaded rows.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}
