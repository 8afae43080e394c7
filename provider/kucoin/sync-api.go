package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/spooky-finn/orderbook-sync/domain"
	applogger "github.com/spooky-finn/orderbook-sync/infrastructure/logger"
)

var logger = applogger.WithComponent("kucoin")

const ProviderName = "kucoin"

type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
}

type KucoinCredentials struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
}

func NewKucoinSyncAPI(creds KucoinCredentials) *KucoinSyncAPI {
	options := []kucoin.ApiServiceOption{
		kucoin.ApiKeyOption(creds.APIKey),
		kucoin.ApiSecretOption(creds.SecretKey),
		kucoin.ApiPassPhraseOption(creds.Passphrase),
	}
	if creds.BaseURL != "" {
		options = append(options, kucoin.ApiBaseURIOption(creds.BaseURL))
	}
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(options...),
	}
}

type orderBookSnapshotModel struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (api *KucoinSyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.Message)
	}
	return data, nil
}

type snapshotResult struct {
	snapshot *domain.Snapshot
	err      error
}

// OrderBookSnapshot runs the blocking SDK call in the background so the caller's deadline is honoured.
func (api *KucoinSyncAPI) OrderBookSnapshot(ctx context.Context, market string) (*domain.Snapshot, error) {
	done := make(chan snapshotResult, 1)
	go func() {
		snapshot, err := api.fetchSnapshot(market)
		done <- snapshotResult{snapshot: snapshot, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotFetch, market, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrSnapshotFetch, market, res.err)
		}
		return res.snapshot, nil
	}
}

func (api *KucoinSyncAPI) fetchSnapshot(market string) (*domain.Snapshot, error) {
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return nil, err
	}

	resp, err := api.apiService.AggregatedFullOrderBookV3(symbol.Join("-"))
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}
	if resp.Code != kucoin.ApiSuccess {
		return nil, fmt.Errorf("provider error %s: %s", resp.Code, resp.Message)
	}

	data := &orderBookSnapshotModel{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	seq, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}

	snapshot := &domain.Snapshot{
		Source: domain.OrderBookSource_Provider,
		Asks:   asks,
		Bids:   bids,
		Seq:    seq,
	}
	snapshot.Sort()
	return snapshot, nil
}
