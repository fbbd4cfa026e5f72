package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/ffxiv-tools/marketboard-backend/internal/metrics"
	"github.com/ffxiv-tools/marketboard-backend/internal/models"
)

const (
	universalisDefaultBaseURL = "https://universalis.app/api"
	universalisDefaultTimeout = 10 * time.Second

	// Universalis signals "no such item id" with this literal body,
	// not an HTTP status.
	universalisNotFoundBody = "Not Found"

	notFoundCacheSize = 256
	notFoundCacheTTL  = 5 * time.Minute
)

// MarketQuote is the market state Universalis reports for one
// (item, world) pair. PricePerUnit is nil when there are no active
// listings.
type MarketQuote struct {
	PricePerUnit   *int
	SaleVelocity   models.TradeVelocity
	AvgPrice       models.TradeAverages
	LastUploadTime time.Time
}

// MarketDataSource fetches the current market quote for an item on a
// world. Implementations classify failures as ItemNotFoundError or
// MalformedResponseError so callers can tell them apart.
type MarketDataSource interface {
	Fetch(ctx context.Context, universalisID int, world string) (*MarketQuote, error)
}

// UniversalisClient fetches market data from the Universalis API. It is
// stateless apart from a politeness rate limiter and a short-lived
// negative cache of ids Universalis reported as unknown.
type UniversalisClient struct {
	client   *http.Client
	baseURL  string
	limiter  *rate.Limiter
	notFound *expirable.LRU[int, time.Time]
}

type universalisListing struct {
	PricePerUnit int `json:"pricePerUnit"`
}

type universalisResponse struct {
	Listings            []universalisListing `json:"listings"`
	RegularSaleVelocity float64              `json:"regularSaleVelocity"`
	NQSaleVelocity      float64              `json:"nqSaleVelocity"`
	HQSaleVelocity      float64              `json:"hqSaleVelocity"`
	AveragePrice        float64              `json:"averagePrice"`
	AveragePriceNQ      float64              `json:"averagePriceNQ"`
	AveragePriceHQ      float64              `json:"averagePriceHQ"`
	LastUploadTime      int64                `json:"lastUploadTime"` // ms epoch
}

// NewUniversalisClient creates a Universalis API client. requestsPerSecond
// caps outbound request rate; baseURL may be empty for the public API.
func NewUniversalisClient(baseURL string, requestsPerSecond float64) *UniversalisClient {
	if baseURL == "" {
		baseURL = universalisDefaultBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 8
	}

	return &UniversalisClient{
		client: &http.Client{
			Timeout: universalisDefaultTimeout,
		},
		baseURL:  baseURL,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		notFound: expirable.NewLRU[int, time.Time](notFoundCacheSize, nil, notFoundCacheTTL),
	}
}

// Fetch gets the current market quote for an item on a world.
// Classification follows the upstream's in-band signaling: a literal
// "Not Found" body means the id is unknown, any other unparseable body is
// a malformed response.
func (c *UniversalisClient) Fetch(ctx context.Context, universalisID int, world string) (*MarketQuote, error) {
	if _, ok := c.notFound.Get(universalisID); ok {
		metrics.UniversalisNotFoundCacheHits.Inc()
		return nil, &models.ItemNotFoundError{UniversalisID: universalisID}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s/%d", c.baseURL, world, universalisID)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	metrics.UniversalisRequestsTotal.Inc()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.UniversalisErrorsTotal.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("failed to fetch market data: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.UniversalisErrorsTotal.WithLabelValues("network").Inc()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed universalisResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if string(body) == universalisNotFoundBody {
			metrics.UniversalisErrorsTotal.WithLabelValues("not_found").Inc()
			c.notFound.Add(universalisID, time.Now())
			return nil, &models.ItemNotFoundError{UniversalisID: universalisID}
		}
		metrics.UniversalisErrorsTotal.WithLabelValues("malformed").Inc()
		return nil, &models.MalformedResponseError{UniversalisID: universalisID, Err: err}
	}

	quote := &MarketQuote{
		SaleVelocity: models.TradeVelocity{
			Overall: parsed.RegularSaleVelocity,
			NQ:      parsed.NQSaleVelocity,
			HQ:      parsed.HQSaleVelocity,
		},
		AvgPrice: models.TradeAverages{
			Overall: parsed.AveragePrice,
			NQ:      parsed.AveragePriceNQ,
			HQ:      parsed.AveragePriceHQ,
		},
		LastUploadTime: time.UnixMilli(parsed.LastUploadTime),
	}
	// No listings means the item is confirmed unsellable on this world
	if len(parsed.Listings) > 0 {
		price := parsed.Listings[0].PricePerUnit
		quote.PricePerUnit = &price
	}

	return quote, nil
}
