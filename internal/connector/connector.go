package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantdesk/mirror-api/internal/types"
)

// RawPayload is a venue-shaped response exactly as the venue returned it,
// tagged with enough context for the normalizer to pick a parser. Venue
// wire formats are adapter-internal and unstable by design; nothing
// outside the normalizer may interpret Data.
type RawPayload struct {
	Venue types.VenueID
	Kind  types.PayloadKind
	Data  json.RawMessage
}

// Credentials references the venue API identity of one account plus the
// symbols the account trades. Venues like Binance cannot list historical
// orders without a symbol, so the tracked set rides along.
type Credentials struct {
	APIKey    string
	APISecret string
	Symbols   []string
}

// Connector translates canonical requests into venue wire calls. Every
// method either returns a raw venue-shaped payload or fails with one of
// the classified errors in internal/types. A connector never touches the
// ledger mirror.
type Connector interface {
	Venue() types.VenueID
	FetchAccountInfo(ctx context.Context) (RawPayload, error)
	FetchBalances(ctx context.Context) (RawPayload, error)
	FetchOrders(ctx context.Context, since time.Time) (RawPayload, error)
	PlaceOrder(ctx context.Context, req types.OrderRequest) (RawPayload, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	FetchTicker(ctx context.Context, symbol string) (RawPayload, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (RawPayload, error)
}

// Factory builds a connector for one account's credentials.
type Factory func(creds Credentials) (Connector, error)

// Registry maps venue ids to connector factories. Selection is explicit:
// an unknown venue is a hard error, never a dynamic fallback.
type Registry struct {
	mu        sync.RWMutex
	factories map[types.VenueID]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[types.VenueID]Factory)}
}

// Register installs a factory for a venue. Registering the same venue
// twice is a programming error and panics at startup.
func (r *Registry) Register(venue types.VenueID, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[venue]; dup {
		panic(fmt.Sprintf("connector: duplicate registration for venue %s", venue))
	}
	r.factories[venue] = f
}

// Connect builds a connector for the venue, or fails hard if the venue
// is not registered.
func (r *Registry) Connect(venue types.VenueID, creds Credentials) (Connector, error) {
	r.mu.RLock()
	f, ok := r.factories[venue]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for venue %q", venue)
	}
	return f(creds)
}

// Venues lists the registered venue ids, sorted for stable output.
func (r *Registry) Venues() []types.VenueID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.VenueID, 0, len(r.factories))
	for v := range r.factories {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// guard bounds every venue call: client-side rate limiting first, then a
// hard per-call timeout. A timed-out wait or call surfaces as a
// connectivity failure so the caller treats the request as not applied.
type guard struct {
	limiter *rate.Limiter
	timeout time.Duration
}

func newGuard(rps float64, burst int, timeout time.Duration) guard {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return guard{limiter: rate.NewLimiter(rate.Limit(rps), burst), timeout: timeout}
}

// venueHTTPClient carries the per-call bound for SDKs whose methods
// take no context; the timeout lives on the transport instead.
func venueHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// call runs fn under the limiter and the per-call timeout.
func (g guard) call(ctx context.Context, venue types.VenueID, op string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &types.ConnectivityError{Venue: venue, Op: op, Err: err}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(callCtx)
}
