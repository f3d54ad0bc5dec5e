package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/database"
	"github.com/quantdesk/mirror-api/internal/gateway"
	"github.com/quantdesk/mirror-api/internal/ledger"
	"github.com/quantdesk/mirror-api/internal/reconcile"
	"github.com/quantdesk/mirror-api/internal/types"
)

const (
	accountID  = "sim-account"
	minOrders  = 15
	maxOrders  = 150
	numWorkers = 5
	dbPath     = "simulation.db"
)

var (
	symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	sides   = []types.OrderSide{types.SideBuy, types.SideSell}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// opStats tracks performance statistics for one operation
type opStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the operation
func (os *opStats) addDuration(d time.Duration) {
	os.durations = append(os.durations, d)
	os.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (os *opStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(os.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(os.durations, func(i, j int) bool {
		return os.durations[i] < os.durations[j]
	})

	min = os.durations[0]
	max = os.durations[len(os.durations)-1]

	var sum time.Duration
	for _, d := range os.durations {
		sum += d
	}
	mean = sum / time.Duration(len(os.durations))
	median = os.durations[len(os.durations)/2]

	p95idx := int(math.Ceil(float64(len(os.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(os.durations))*0.99)) - 1
	p95 = os.durations[p95idx]
	p99 = os.durations[p99idx]

	return
}

// simulation wires the full stack around the scripted mock venue and
// drives it the way a trading bot fleet would.
type simulation struct {
	mock     *connector.MockConnector
	ledgerDB *ledger.Database
	engine   *reconcile.Engine
	gw       *gateway.Gateway
	stats    map[string]*opStats
	mu       sync.Mutex
}

func newSimulation() (*simulation, error) {
	_ = os.Remove(dbPath)
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	cfg := config.Default()
	cfg.Sync.Interval = 0 // the simulation drives syncs itself
	store := config.NewStore("", cfg)

	mock := connector.NewMockConnector()
	seedVenue(mock)

	registry := connector.NewRegistry()
	registry.Register(types.VenueMock, connector.NewMockFactory(mock))

	creds := connector.NewStaticCredentialSource()
	creds.Set("mock-sim", connector.Credentials{APIKey: "sim", APISecret: "sim"})

	ledgerDB := ledger.NewDatabase(db)
	locks := ledger.NewAccountLocks()
	sink := audit.NewSink(db)

	sim := &simulation{
		mock:     mock,
		ledgerDB: ledgerDB,
		engine:   reconcile.NewEngine(ledgerDB, registry, creds, locks, sink, store),
		gw:       gateway.NewGateway(ledgerDB, registry, creds, locks, sink, store),
		stats: map[string]*opStats{
			"sync":   {name: "Account Sync"},
			"place":  {name: "Place Order"},
			"cancel": {name: "Cancel Order"},
		},
	}

	if err := ledgerDB.CreateAccount(&ledger.Account{
		AccountID:      accountID,
		OwnerID:        "sim-owner",
		Venue:          string(types.VenueMock),
		CredentialsRef: "mock-sim",
		Active:         true,
		Symbols:        `["BTCUSDT","ETHUSDT","SOLUSDT","XRPUSDT"]`,
	}); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return sim, nil
}

// seedVenue scripts the mock venue with starting balances and quotes
func seedVenue(mock *connector.MockConnector) {
	mock.SetBalances([]connector.MockBalance{
		{Coin: "USDT", Total: "100000", Free: "100000", Locked: "0"},
		{Coin: "BTC", Total: "5", Free: "5", Locked: "0"},
		{Coin: "ETH", Total: "80", Free: "80", Locked: "0"},
		{Coin: "SOL", Total: "1200", Free: "1200", Locked: "0"},
		{Coin: "XRP", Total: "50000", Free: "50000", Locked: "0"},
	})
	mock.SetTicker(connector.MockTicker{Sym: "BTCUSDT", Last: "64250.10"})
	mock.SetTicker(connector.MockTicker{Sym: "ETHUSDT", Last: "3305.45"})
	mock.SetTicker(connector.MockTicker{Sym: "SOLUSDT", Last: "182.20"})
	mock.SetTicker(connector.MockTicker{Sym: "XRPUSDT", Last: "0.6120"})
}

func (s *simulation) record(op string, start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[op].addDuration(time.Since(start))
	if err != nil {
		s.stats[op].failures++
	}
}

func (s *simulation) sync(ctx context.Context) (*reconcile.Result, error) {
	start := time.Now()
	result, err := s.engine.SyncAccount(ctx, accountID)
	s.record("sync", start, err)
	return result, err
}

func (s *simulation) placeRandomOrder(ctx context.Context, workerID int) (*types.OrderAck, error) {
	symbol := symbols[rand.Intn(len(symbols))]
	req := types.OrderRequest{
		Symbol: symbol,
		Side:   sides[rand.Intn(len(sides))],
		Type:   "LIMIT",
		Amount: decimal.NewFromFloat(float64(rand.Intn(10)+1) / 10),
		Price:  decimal.NewFromFloat(float64(rand.Intn(1000) + 100)),
		BotID:  fmt.Sprintf("sim-bot-%d", workerID),
	}

	start := time.Now()
	ack, err := s.gw.PlaceOrder(ctx, accountID, req)
	s.record("place", start, err)
	return ack, err
}

func (s *simulation) cancel(ctx context.Context, venueOrderID string) error {
	start := time.Now()
	err := s.gw.CancelOrder(ctx, accountID, venueOrderID)
	s.record("cancel", start, err)
	return err
}

// printPerformanceStats outputs formatted performance statistics for all operations
func (s *simulation) printPerformanceStats() {
	fmt.Println("\nOperation Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Operation", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range s.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main drives a full mirror lifecycle against the scripted mock venue:
// initial sync, a burst of concurrent order placements, cancellations
// of a random subset, and a final converging sync.
func main() {
	ctx := context.Background()

	sim, err := newSimulation()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation")
	}

	// Initial sync pulls the seeded venue state into the mirror
	result, err := sim.sync(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Initial sync failed")
	}
	log.Info().
		Int("balances_applied", result.Stats.BalancesApplied).
		Int("wallets_created", result.Stats.WalletsCreated).
		Msg("Initial sync completed")

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan string, targetOrders)
	var wg sync.WaitGroup

	stats := struct {
		TotalOrders     int
		PlacedOrders    int
		CancelledOrders int
		FailedOrders    int
		FailedCancels   int
		StartTime       time.Time
		Symbols         map[string]int
		Sides           map[string]int
		mu              sync.Mutex
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}
	stats.TotalOrders = targetOrders

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := 0; n < targetOrders/numWorkers; n++ {
				ack, err := sim.placeRandomOrder(ctx, workerID)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to place order")
					stats.mu.Lock()
					stats.FailedOrders++
					stats.mu.Unlock()
					continue
				}
				ordersChan <- ack.VenueOrderID
				stats.mu.Lock()
				stats.PlacedOrders++
				stats.Symbols[ack.Symbol]++
				stats.mu.Unlock()
				log.Info().
					Int("worker_id", workerID).
					Str("venue_order_id", ack.VenueOrderID).
					Str("symbol", ack.Symbol).
					Msg("Order placed")

				time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}
	log.Info().Int("orders_placed", len(orderIDs)).Msg("All orders placed")

	// Sync to confirm the optimistic records against venue truth
	if _, err := sim.sync(ctx); err != nil {
		log.Error().Err(err).Msg("Mid-run sync failed")
	}

	// Cancel a random third of the placed orders
	for _, orderID := range orderIDs {
		if rand.Intn(3) != 0 {
			continue
		}
		if err := sim.cancel(ctx, orderID); err != nil {
			log.Error().Err(err).Str("venue_order_id", orderID).Msg("Failed to cancel order")
			stats.FailedCancels++
			continue
		}
		stats.CancelledOrders++
		log.Info().Str("venue_order_id", orderID).Msg("Order cancelled")
	}

	// Final sync converges the mirror on the venue's end state
	result, err = sim.sync(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Final sync failed")
	}

	history, total, err := sim.ledgerDB.GetOrderHistory(accountID, ledger.OrderFilter{PageSize: 500})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read order history")
	}
	statusCounts := make(map[string]int)
	for _, order := range history {
		statusCounts[order.Status]++
		stats.Sides[order.Side]++
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("MIRROR SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Target Orders:    %d
Placed:           %d
Cancelled:        %d
Failed Placement: %d
Failed Cancels:   %d
Mirrored Orders:  %d
Final Cursor:     %s
Anomalies:        %d
Duration:         %v

Status Distribution
-------------------
`, stats.TotalOrders, stats.PlacedOrders, stats.CancelledOrders,
		stats.FailedOrders, stats.FailedCancels, total,
		result.Cursor.Format(time.RFC3339), result.Stats.OrderAnomalies,
		duration.Round(time.Millisecond))

	for status, count := range statusCounts {
		barLength := int(float64(count) / float64(len(history)) * 40)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-18s: %s (%d)\n", status, bar, count)
	}

	fmt.Println("\nSymbol Distribution")
	fmt.Println("-------------------")
	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(stats.PlacedOrders) * 40)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-8s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("placed", stats.PlacedOrders).
		Int("cancelled", stats.CancelledOrders).
		Int64("mirrored", total).
		Dur("duration", duration).
		Msg("Simulation completed")

	sim.printPerformanceStats()
}
