package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/avilpage/autohedger/internal/app"
	"github.com/avilpage/autohedger/internal/broker"
	"github.com/avilpage/autohedger/internal/catalog"
	"github.com/avilpage/autohedger/internal/config"
	"github.com/avilpage/autohedger/internal/dashboard"
	"github.com/avilpage/autohedger/internal/hedger"
	"github.com/avilpage/autohedger/internal/mock"
	"github.com/avilpage/autohedger/internal/session"
	"github.com/avilpage/autohedger/internal/settings"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[HEDGER] ", log.LstdFlags)

	logger.Printf("Starting %s in %s mode", settings.AppName, cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real orders will be placed")
	} else {
		logger.Println("LIVE TRADING MODE - orders go to your real account!")
	}

	settingsPath := cfg.Settings.Path
	if settingsPath == "" {
		settingsPath, err = settings.DefaultPath()
		if err != nil {
			logger.Fatalf("Failed to locate settings: %v", err)
		}
	}
	store, err := settings.NewStore(settingsPath)
	if err != nil {
		logger.Fatalf("Failed to open settings: %v", err)
	}

	var brk broker.Broker
	if cfg.IsPaperTrading() {
		if err := mock.WriteSampleCatalog(cfg.Catalog.Path); err != nil {
			logger.Fatalf("Failed to write paper catalog: %v", err)
		}
		brk = mock.NewBroker()
	} else {
		brk = broker.NewKiteAPI(cfg.Broker.BaseURL).WithTimeout(cfg.BrokerTimeout())
	}
	brk = broker.NewCircuitBreakerBroker(brk)

	catalogOpts := []catalog.Option{catalog.WithMaxAge(cfg.CatalogMaxAge())}
	if cfg.Catalog.URL != "" {
		catalogOpts = append(catalogOpts, catalog.WithURL(cfg.Catalog.URL))
	}
	cat := catalog.New(cfg.Catalog.Path, logger, catalogOpts...)

	sess := session.NewManager(brk, store, logger, cfg.Broker.TOTPSecret)
	a := app.New(sess, cat, store, cfg.Hedge.Exchange, cfg.Hedge.Product, cfg.Hedge.Percentage, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received")
		cancel()
	}()

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, a, newLogrus(cfg.Environment.LogLevel))
		go func() {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Dashboard error: %v", err)
			}
		}()
	}

	cli := &CLI{app: a, logger: logger, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	cli.startup(ctx)
	cli.loop(ctx)

	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := dash.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Dashboard shutdown: %v", err)
		}
	}
	logger.Println("Goodbye")
}

func newLogrus(level string) *logrus.Logger {
	l := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return l
}

// CLI drives the interactive action loop on the terminal.
type CLI struct {
	app    *app.App
	logger *log.Logger
	in     *bufio.Reader
	out    io.Writer
}

// startup restores a persisted session and, when one is live, runs the
// first calculation so the operator lands on a fresh report.
func (c *CLI) startup(ctx context.Context) {
	profile, err := c.app.Restore()
	if err != nil {
		c.logger.Printf("Restoring session: %v", err)
		return
	}
	if profile == nil {
		fmt.Fprintln(c.out, "Not logged in. Use 'login' to start a session.")
		return
	}

	fmt.Fprintf(c.out, "Welcome back, %s (%s)\n", profile.UserName, profile.UserID)
	c.calculate(ctx)
}

func (c *CLI) loop(ctx context.Context) {
	c.printHelp()
	for {
		fmt.Fprint(c.out, "> ")
		line, err := c.readLine(ctx)
		if err != nil {
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "login":
			c.login()
		case "calc":
			c.calculate(ctx)
		case "toggle":
			if len(fields) != 2 {
				fmt.Fprintln(c.out, "usage: toggle <row>")
				continue
			}
			c.toggle(fields[1])
		case "place":
			c.place()
		case "pct":
			if len(fields) != 2 {
				fmt.Fprintf(c.out, "hedge percentage: %.1f%%\n", c.app.HedgePercentage())
				continue
			}
			c.setPercentage(fields[1])
		case "help":
			c.printHelp()
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(c.out, "unknown command %q (try 'help')\n", fields[0])
		}
	}
}

// readLine reads one line off stdin, aborting when the context is
// cancelled by a shutdown signal.
func (c *CLI) readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimSpace(res.line), nil
	}
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  login         log in with username, password and one-time code
  calc          recalculate hedge proposals from open positions
  toggle <row>  flip a proposal's approval (row number from the table)
  place         place market buys for the approved proposals
  pct [n]       show or set the hedge offset percentage
  quit          exit`)
}

func (c *CLI) login() {
	savedUser := c.app.SavedUsername()
	fmt.Fprintf(c.out, "Username [%s]: ", savedUser)
	user, err := c.in.ReadString('\n')
	if err != nil {
		return
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = savedUser
	}

	fmt.Fprint(c.out, "Password: ")
	password, err := readPassword(c.in, c.out)
	if err != nil {
		fmt.Fprintf(c.out, "reading password: %v\n", err)
		return
	}

	fmt.Fprint(c.out, "One-time code (blank to use the configured secret): ")
	code, err := c.in.ReadString('\n')
	if err != nil {
		return
	}

	profile, err := c.app.Login(user, password, strings.TrimSpace(code))
	if err != nil {
		fmt.Fprintf(c.out, "Login failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Logged in as %s (%s)\n", profile.UserName, profile.UserID)
}

// readPassword reads without echo on a real terminal and falls back to a
// plain line when stdin is piped.
func readPassword(in *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		return string(raw), err
	}
	line, err := in.ReadString('\n')
	return strings.TrimSpace(line), err
}

func (c *CLI) calculate(ctx context.Context) {
	report, err := c.app.CalculateHedges(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotLoggedIn) {
			fmt.Fprintln(c.out, "Not logged in. Use 'login' first.")
			return
		}
		fmt.Fprintf(c.out, "Calculation failed: %v\n", err)
		return
	}
	c.printReport(report)
}

func (c *CLI) printReport(report *app.HedgeReport) {
	if len(report.Audit) > 0 {
		fmt.Fprintln(c.out, "\nOpen derivative positions:")
		for _, row := range report.Audit {
			note := ""
			if row.SubLot {
				note = " (sub-lot, ignored)"
			} else if row.IsHedge {
				note = " (hedge)"
			}
			fmt.Fprintf(c.out, "  %-24s qty=%-6d %-3s %-5s lots=%d%s\n",
				row.TradingSymbol, row.Quantity, row.Kind, row.Stance, row.Lots, note)
		}
	}

	for _, reason := range report.Skipped {
		fmt.Fprintf(c.out, "  skipped: %s\n", reason)
	}
	for _, skip := range report.Skips {
		fmt.Fprintf(c.out, "  %s: no proposal (%s)\n", skip.Underlying, skip.Reason)
	}

	if len(report.Proposals) == 0 {
		fmt.Fprintln(c.out, "\nNothing to hedge.")
		return
	}

	fmt.Fprintln(c.out, "\nHedge proposals:")
	for i, p := range report.Proposals {
		fmt.Fprintf(c.out, "%3d. %s\n", i+1, hedger.FormatProposal(p))
	}
	fmt.Fprintln(c.out, "Use 'toggle <row>' to veto, then 'place' to submit.")
}

func (c *CLI) toggle(arg string) {
	report := c.app.Report()
	if report == nil {
		fmt.Fprintln(c.out, "No report. Use 'calc' first.")
		return
	}

	row, err := strconv.Atoi(arg)
	if err != nil || row < 1 || row > len(report.Proposals) {
		fmt.Fprintf(c.out, "row must be 1..%d\n", len(report.Proposals))
		return
	}

	approved, err := c.app.ToggleProposal(report.Proposals[row-1].ID)
	if err != nil {
		fmt.Fprintf(c.out, "Toggle failed: %v\n", err)
		return
	}
	state := "approved"
	if !approved {
		state = "vetoed"
	}
	fmt.Fprintf(c.out, "%s is now %s\n", report.Proposals[row-1].ContractSymbol, state)
}

func (c *CLI) place() {
	results, err := c.app.PlaceHedgeOrders()
	if err != nil {
		fmt.Fprintf(c.out, "Placement failed: %v\n", err)
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(c.out, "No approved proposals to place.")
		return
	}
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(c.out, "  %-24s FAILED: %v\n", res.Proposal.ContractSymbol, res.Err)
			continue
		}
		fmt.Fprintf(c.out, "  %-24s order %s\n", res.Proposal.ContractSymbol, res.OrderID)
	}
}

func (c *CLI) setPercentage(arg string) {
	pct, err := strconv.ParseFloat(arg, 64)
	if err != nil || pct <= 0 || pct >= 100 {
		fmt.Fprintln(c.out, "percentage must be a number in (0,100)")
		return
	}
	if err := c.app.SetHedgePercentage(pct); err != nil {
		fmt.Fprintf(c.out, "Saving percentage: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Hedge percentage set to %.1f%%. Run 'calc' to refresh.\n", pct)
}
