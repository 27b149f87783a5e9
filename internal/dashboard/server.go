// Package dashboard serves a small local web view of the current hedge
// report, with actions to recalculate, veto proposals, and place orders.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/avilpage/autohedger/internal/app"
	"github.com/avilpage/autohedger/internal/session"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	app       *app.App
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

// SessionView is the session block shown in the header.
type SessionView struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

func NewServer(cfg Config, a *app.App, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		app:       a,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/session", s.handleSession)
	s.router.Get("/api/report", s.handleReport)
	s.router.Post("/api/calculate", s.handleCalculate)
	s.router.Post("/api/proposals/{id}/toggle", s.handleToggle)
	s.router.Post("/api/orders", s.handlePlaceOrders)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard on http://%s", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Session SessionView
		Report  *app.HedgeReport
	}{
		Session: s.sessionView(),
		Report:  s.app.Report(),
	}

	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to render dashboard")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.sessionView())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.app.Report()
	if report == nil {
		http.Error(w, "No report", http.StatusNotFound)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.CalculateHedges(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	approved, err := s.app.ToggleProposal(id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"id": id, "approved": approved})
}

func (s *Server) handlePlaceOrders(w http.ResponseWriter, r *http.Request) {
	results, err := s.app.PlaceHedgeOrders()
	if err != nil {
		s.writeActionError(w, err)
		return
	}

	type resultView struct {
		ContractSymbol string `json:"contract_symbol"`
		OrderID        string `json:"order_id,omitempty"`
		Error          string `json:"error,omitempty"`
	}
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		v := resultView{ContractSymbol: res.Proposal.ContractSymbol, OrderID: res.OrderID}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		views = append(views, v)
	}
	s.writeJSON(w, views)
}

func (s *Server) sessionView() SessionView {
	view := SessionView{LoggedIn: s.app.LoggedIn()}
	if profile := s.app.Profile(); profile != nil {
		view.UserID = profile.UserID
		view.UserName = profile.UserName
	}
	return view
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeActionError maps the app's sentinel errors to HTTP statuses.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, app.ErrNoReport):
		status = http.StatusConflict
	case errors.Is(err, app.ErrUnknownProposal):
		status = http.StatusNotFound
	}
	s.logger.WithError(err).Warn("Dashboard action failed")
	http.Error(w, err.Error(), status)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<title>AutoHedger</title>
<style>
body { font-family: sans-serif; margin: 2rem; background: #fafafa; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.8rem; text-align: right; }
th { background: #eee; }
td:first-child, th:first-child { text-align: left; }
.muted { color: #777; }
</style>
</head>
<body>
<h1>AutoHedger</h1>
{{if .Session.LoggedIn}}
<p>Logged in as <strong>{{.Session.UserName}}</strong> ({{.Session.UserID}})</p>
{{else}}
<p class="muted">Logged out. Log in from the terminal to enable actions.</p>
{{end}}
{{if .Report}}
<h2>Proposals</h2>
<table>
<tr><th>Underlying</th><th>Long</th><th>Short</th><th>LTP</th><th>Target</th><th>Contract</th><th>Lots</th><th>Approved</th></tr>
{{range .Report.Proposals}}
<tr>
<td>{{.Underlying}}</td><td>{{.NetLong}}</td><td>{{.NetShort}}</td>
<td>{{printf "%.0f" .LastTradedPrice}}</td><td>{{printf "%.2f" .TargetPrice}}</td>
<td>{{.ContractSymbol}}</td><td>{{.Lots}}</td><td>{{if .Approved}}yes{{else}}no{{end}}</td>
</tr>
{{end}}
</table>
<h2>Positions</h2>
<table>
<tr><th>Symbol</th><th>Qty</th><th>Kind</th><th>Stance</th><th>Lots</th><th>Hedge</th></tr>
{{range .Report.Audit}}
<tr>
<td>{{.TradingSymbol}}</td><td>{{.Quantity}}</td><td>{{.Kind}}</td>
<td>{{.Stance}}</td><td>{{.Lots}}{{if .SubLot}} (sub-lot){{end}}</td>
<td>{{if .IsHedge}}yes{{else}}no{{end}}</td>
</tr>
{{end}}
</table>
{{if .Report.Skipped}}
<h2>Skipped positions</h2>
<ul>{{range .Report.Skipped}}<li class="muted">{{.}}</li>{{end}}</ul>
{{end}}
{{else}}
<p class="muted">No hedge report yet.</p>
{{end}}
</body>
</html>
`))
