// Package price looks up spot prices from a JSON HTTP endpoint.
//
// The response body is reduced to a single number with a jq expression, so
// any provider can be used without code changes. The expression may refer
// to the requested asset as $asset, e.g. `.[$asset].usd` for CoinGecko's
// simple price endpoint.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/brojonat/buydetector/service/metrics"
	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"
)

// Oracle fetches a USD spot price for an asset.
type Oracle struct {
	url        string
	code       *gojq.Code
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOracle compiles jqExpr and returns an oracle querying url.
// If httpClient is nil a client with a 10s timeout is used.
func NewOracle(url, jqExpr string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Oracle, error) {
	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq expression %q: %w", jqExpr, err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$asset"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq expression %q: %w", jqExpr, err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	return &Oracle{
		url:        url,
		code:       code,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}, nil
}

// SpotPriceUSD returns the current USD price of asset.
func (o *Oracle) SpotPriceUSD(ctx context.Context, asset string) (decimal.Decimal, error) {
	price, err := o.lookup(ctx, asset)
	if o.metrics != nil {
		o.metrics.RecordPriceLookup(asset, err)
	}
	if err != nil {
		o.logger.WarnContext(ctx, "price lookup failed", "asset", asset, "error", err)
		return decimal.Zero, err
	}
	o.logger.DebugContext(ctx, "price lookup", "asset", asset, "usd", price.String())
	return price, nil
}

func (o *Oracle) lookup(ctx context.Context, asset string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price API returned status %d: %s", resp.StatusCode, string(body))
	}

	var doc any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	return o.Evaluate(ctx, doc, asset)
}

// Evaluate runs the oracle's jq expression against an already decoded
// document. The first result must be a positive number or numeric string.
func (o *Oracle) Evaluate(ctx context.Context, doc any, asset string) (decimal.Decimal, error) {
	iter := o.code.RunWithContext(ctx, doc, asset)
	v, ok := iter.Next()
	if !ok {
		return decimal.Zero, fmt.Errorf("jq expression produced no result")
	}
	if err, isErr := v.(error); isErr {
		return decimal.Zero, fmt.Errorf("jq expression failed: %w", err)
	}

	price, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be positive, got %s", price)
	}
	return price, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case *big.Int:
		return decimal.NewFromBigInt(n, 0), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("price %q is not numeric: %w", n, err)
		}
		return d, nil
	case nil:
		return decimal.Zero, fmt.Errorf("price not found in response")
	default:
		return decimal.Zero, fmt.Errorf("unexpected price type %T", v)
	}
}
