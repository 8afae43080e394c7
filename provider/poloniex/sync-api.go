package poloniex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/spooky-finn/orderbook-sync/domain"
)

const poloniexDefaultRestEndpoint = "https://poloniex.com/public"

type orderBookResponse struct {
	Asks     []domain.PriceLevel `json:"asks"`
	Bids     []domain.PriceLevel `json:"bids"`
	IsFrozen string              `json:"isFrozen"`
	Seq      int64               `json:"seq"`
	Error    string              `json:"error"`
}

// PoloniexSyncAPI fetches returnOrderBook snapshots. Calls are paced by a shared limiter
// so a burst of resyncs across markets does not trip the public rate limit.
type PoloniexSyncAPI struct {
	endpoint string
	depth    int
	client   *http.Client
	limiter  *rate.Limiter
}

func NewPoloniexSyncAPI(endpoint string, rps float64, depth int) *PoloniexSyncAPI {
	if endpoint == "" {
		endpoint = poloniexDefaultRestEndpoint
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &PoloniexSyncAPI{
		endpoint: endpoint,
		depth:    depth,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (api *PoloniexSyncAPI) OrderBookSnapshot(ctx context.Context, market string) (*domain.Snapshot, error) {
	if err := api.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotFetch, market, err)
	}

	query := url.Values{}
	query.Set("command", "returnOrderBook")
	query.Set("currencyPair", market)
	if api.depth > 0 {
		query.Set("depth", strconv.Itoa(api.depth))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotFetch, market, err)
	}
	res, err := api.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotFetch, market, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read response body: %v", domain.ErrSnapshotFetch, market, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d, response: %s", domain.ErrSnapshotFetch, market, res.StatusCode, body)
	}

	data := &orderBookResponse{}
	if err = json.Unmarshal(body, data); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to unmarshal response body: %v, response: %s", domain.ErrSnapshotFetch, market, err, body)
	}
	if data.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrSnapshotFetch, market, data.Error)
	}

	snapshot := &domain.Snapshot{
		Source: domain.OrderBookSource_Provider,
		Asks:   data.Asks,
		Bids:   data.Bids,
		Frozen: data.IsFrozen == "1",
		Seq:    data.Seq,
	}
	snapshot.Sort()
	return snapshot, nil
}
