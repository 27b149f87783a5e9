// Package app wires the session, catalog, and hedge pipeline into the four
// operator actions: log in, calculate hedges, toggle a proposal, and place
// the approved orders.
package app

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/catalog"
	"github.com/avilpage/autohedger/internal/hedger"
	"github.com/avilpage/autohedger/internal/models"
	"github.com/avilpage/autohedger/internal/orders"
	"github.com/avilpage/autohedger/internal/session"
	"github.com/avilpage/autohedger/internal/settings"
)

// HedgeReport is the outcome of one calculation pass, held until the
// operator places or recalculates.
type HedgeReport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Exposures   []hedger.Exposure      `json:"exposures"`
	Proposals   []models.HedgeProposal `json:"proposals"`
	Audit       []hedger.AuditRow      `json:"audit"`
	Skips       []hedger.Skip          `json:"skips"`
	Skipped     []string               `json:"skipped"`
}

// ErrNoReport is returned when an action needs a calculated report and none
// exists yet.
var ErrNoReport = errors.New("no hedge report: calculate hedges first")

// ErrUnknownProposal is returned when a proposal id is not in the current
// report.
var ErrUnknownProposal = errors.New("no such proposal in the current report")

// App owns the current hedge report and runs the operator actions over it.
type App struct {
	session    *session.Manager
	catalog    *catalog.Catalog
	store      *settings.Store
	aggregator *hedger.Aggregator
	planner    *hedger.Planner
	dispatcher *orders.Dispatcher
	defaultPct float64
	logger     *log.Logger

	mu     sync.Mutex
	report *HedgeReport
}

// New wires the hedge pipeline over an authenticated session and an
// instrument catalog. defaultPct is used when the operator has not saved a
// hedge percentage of their own.
func New(sess *session.Manager, cat *catalog.Catalog, store *settings.Store,
	exchange, product string, defaultPct float64, logger *log.Logger) *App {
	if logger == nil {
		logger = log.New(os.Stderr, "app: ", log.LstdFlags)
	}
	return &App{
		session:    sess,
		catalog:    cat,
		store:      store,
		aggregator: hedger.NewAggregator(cat, logger),
		planner:    hedger.NewPlanner(sess, cat, logger),
		dispatcher: orders.NewDispatcher(sess, cat, exchange, product, logger),
		defaultPct: defaultPct,
		logger:     logger,
	}
}

// Restore resumes a persisted session, if any. Logged-out is a normal
// outcome, reported by a nil profile.
func (a *App) Restore() (*broker.Profile, error) {
	return a.session.Restore()
}

// Login authenticates and remembers the username as the next login's form
// default. The one-time code may be empty when a TOTP secret is configured.
func (a *App) Login(userID, password, totpCode string) (*broker.Profile, error) {
	profile, err := a.session.Login(userID, password, totpCode)
	if err != nil {
		return nil, err
	}
	if err := a.store.Update(func(s *settings.Settings) { s.Username = profile.UserID }); err != nil {
		a.logger.Printf("saving username: %v", err)
	}
	return profile, nil
}

// LoggedIn reports whether a session is active.
func (a *App) LoggedIn() bool { return a.session.LoggedIn() }

// Profile returns the active session's profile, nil when logged out.
func (a *App) Profile() *broker.Profile { return a.session.Profile() }

// SavedUsername returns the last successfully used login name, for form
// defaults.
func (a *App) SavedUsername() string { return a.store.Get().Username }

// HedgePercentage returns the operator's saved offset, or the configured
// default when none is saved.
func (a *App) HedgePercentage() float64 {
	if pct := a.store.Get().HedgePercentage; pct > 0 {
		return pct
	}
	return a.defaultPct
}

// SetHedgePercentage saves the operator's offset for future runs.
func (a *App) SetHedgePercentage(pct float64) error {
	return a.store.Update(func(s *settings.Settings) { s.HedgePercentage = pct })
}

// CalculateHedges runs the full pipeline: refresh the catalog, fetch open
// positions, net them per underlying, and propose protective option buys.
// The resulting report replaces any previous one.
func (a *App) CalculateHedges(ctx context.Context) (*HedgeReport, error) {
	if !a.session.LoggedIn() {
		return nil, session.ErrNotLoggedIn
	}

	if err := a.catalog.Ensure(ctx); err != nil {
		return nil, err
	}

	positions, err := a.session.Positions()
	if err != nil {
		return nil, err
	}

	agg := a.aggregator.Aggregate(positions)
	proposals, skips, err := a.planner.Plan(agg.Exposures, a.HedgePercentage())
	if err != nil {
		return nil, err
	}

	report := &HedgeReport{
		GeneratedAt: time.Now(),
		Exposures:   agg.Exposures,
		Proposals:   proposals,
		Audit:       agg.Audit,
		Skips:       skips,
		Skipped:     agg.Skipped,
	}

	a.mu.Lock()
	a.report = report
	a.mu.Unlock()

	a.logger.Printf("calculated %d proposal(s) over %d exposure(s)", len(proposals), len(agg.Exposures))
	return a.snapshot(), nil
}

// Report returns a copy of the current report, nil when none exists.
func (a *App) Report() *HedgeReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.report == nil {
		return nil
	}
	return a.copyReportLocked()
}

// ToggleProposal flips the approval flag of one proposal in the current
// report and returns the new state.
func (a *App) ToggleProposal(id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.report == nil {
		return false, ErrNoReport
	}
	for i := range a.report.Proposals {
		if a.report.Proposals[i].ID == id {
			a.report.Proposals[i].Approved = !a.report.Proposals[i].Approved
			return a.report.Proposals[i].Approved, nil
		}
	}
	return false, ErrUnknownProposal
}

// PlaceHedgeOrders submits the approved proposals of the current report and
// consumes it. Per-order failures appear in the results; they do not fail
// the call.
func (a *App) PlaceHedgeOrders() ([]orders.Result, error) {
	if !a.session.LoggedIn() {
		return nil, session.ErrNotLoggedIn
	}

	a.mu.Lock()
	if a.report == nil {
		a.mu.Unlock()
		return nil, ErrNoReport
	}
	proposals := make([]models.HedgeProposal, len(a.report.Proposals))
	copy(proposals, a.report.Proposals)
	a.report = nil
	a.mu.Unlock()

	return a.dispatcher.Dispatch(proposals), nil
}

// snapshot returns a copy of the report under the lock.
func (a *App) snapshot() *HedgeReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyReportLocked()
}

func (a *App) copyReportLocked() *HedgeReport {
	cp := *a.report
	cp.Exposures = append([]hedger.Exposure(nil), a.report.Exposures...)
	cp.Proposals = append([]models.HedgeProposal(nil), a.report.Proposals...)
	cp.Audit = append([]hedger.AuditRow(nil), a.report.Audit...)
	cp.Skips = append([]hedger.Skip(nil), a.report.Skips...)
	cp.Skipped = append([]string(nil), a.report.Skipped...)
	return &cp
}
