// Package billing converts token usage into USD cost and workspace credits.
package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

var million = decimal.NewFromInt(1_000_000)

// ModelPrice is a model's USD price per million tokens.
type ModelPrice struct {
	InputPerMillion  decimal.Decimal
	OutputPerMillion decimal.Decimal
}

// DefaultPricing is the built-in price table, overridable through config.
func DefaultPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"text-embedding-004":     {InputPerMillion: decimal.RequireFromString("0.15")},
		"gemini-embedding-001":   {InputPerMillion: decimal.RequireFromString("0.15")},
		"text-embedding-3-small": {InputPerMillion: decimal.RequireFromString("0.02")},
		"text-embedding-3-large": {InputPerMillion: decimal.RequireFromString("0.13")},
		"gemini-2.0-flash": {
			InputPerMillion:  decimal.RequireFromString("0.10"),
			OutputPerMillion: decimal.RequireFromString("0.40"),
		},
		"gemini-1.5-flash": {
			InputPerMillion:  decimal.RequireFromString("0.075"),
			OutputPerMillion: decimal.RequireFromString("0.30"),
		},
	}
}

// Config holds process-wide billing configuration.
type Config struct {
	// MarkupMultiplier scales provider cost into the charged amount
	MarkupMultiplier decimal.Decimal
	// CreditUnitValue is the USD value of one credit
	CreditUnitValue decimal.Decimal
	Pricing         map[string]ModelPrice
}

// DefaultConfig charges provider cost at 1x with credits worth $0.0001.
func DefaultConfig() Config {
	return Config{
		MarkupMultiplier: decimal.NewFromInt(1),
		CreditUnitValue:  decimal.RequireFromString("0.0001"),
		Pricing:          DefaultPricing(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.MarkupMultiplier.IsPositive() {
		return fmt.Errorf("%w: markup multiplier must be positive", domain.ErrInvalidInput)
	}
	if !c.CreditUnitValue.IsPositive() {
		return fmt.Errorf("%w: credit unit value must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// EstimateCost returns tokens * costPerMillion / 1e6 in USD.
func EstimateCost(tokens int64, costPerMillion decimal.Decimal) decimal.Decimal {
	if tokens <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(costPerMillion).Div(million)
}

// ToCredits returns ceil(usd * markup / creditUnitValue), at least 1 when usd > 0.
func ToCredits(usd, markup, creditUnitValue decimal.Decimal) int64 {
	if !usd.IsPositive() {
		return 0
	}
	credits := usd.Mul(markup).Div(creditUnitValue).Ceil().IntPart()
	return max(credits, 1)
}

// Quote is the priced outcome of a run.
type Quote struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      decimal.Decimal // what the provider charges
	ChargeUSD    decimal.Decimal // cost * markup
	ProfitUSD    decimal.Decimal // charge - cost
	Credits      int64
}

// Estimator prices token usage.
type Estimator struct {
	cfg Config
}

// NewEstimator creates an estimator.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing()
	}
	return &Estimator{cfg: cfg}, nil
}

// Price returns the price of a model.
func (e *Estimator) Price(model string) (ModelPrice, error) {
	price, ok := e.cfg.Pricing[model]
	if !ok {
		return ModelPrice{}, fmt.Errorf("%w: no price configured for model %q", domain.ErrInvalidInput, model)
	}
	return price, nil
}

// Quote prices input-only usage, as for embeddings.
func (e *Estimator) Quote(model string, tokens int64) (Quote, error) {
	return e.QuoteUsage(model, tokens, 0)
}

// QuoteUsage prices input and output tokens, as for vision calls.
func (e *Estimator) QuoteUsage(model string, inputTokens, outputTokens int64) (Quote, error) {
	price, err := e.Price(model)
	if err != nil {
		return Quote{}, err
	}

	cost := EstimateCost(inputTokens, price.InputPerMillion).
		Add(EstimateCost(outputTokens, price.OutputPerMillion))
	charge := cost.Mul(e.cfg.MarkupMultiplier)

	return Quote{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		ChargeUSD:    charge,
		ProfitUSD:    charge.Sub(cost),
		Credits:      ToCredits(cost, e.cfg.MarkupMultiplier, e.cfg.CreditUnitValue),
	}, nil
}

// Upload heuristics. Images count as a single page each.
const (
	bytesPerDocumentPage = 50_000
	bytesPerTextPage     = 3_000
	TokensPerPage        = 500
)

// UploadEstimate is a pre-upload guess made from the file size alone.
type UploadEstimate struct {
	Pages  int64
	Tokens int64
	Quote  Quote
}

// EstimatePages maps a file size to a page count by mime type.
func EstimatePages(sizeBytes int64, mimeType string) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	if strings.HasPrefix(mimeType, "image/") {
		return 1
	}

	perPage := int64(bytesPerDocumentPage)
	if strings.HasPrefix(mimeType, "text/") || mimeType == "application/json" {
		perPage = bytesPerTextPage
	}
	return (sizeBytes + perPage - 1) / perPage
}

// EstimateUpload prices a file before it is extracted.
func (e *Estimator) EstimateUpload(sizeBytes int64, mimeType, model string) (UploadEstimate, error) {
	pages := EstimatePages(sizeBytes, mimeType)
	tokens := pages * TokensPerPage

	quote, err := e.Quote(model, tokens)
	if err != nil {
		return UploadEstimate{}, err
	}
	return UploadEstimate{Pages: pages, Tokens: tokens, Quote: quote}, nil
}

// ParsePricing parses "model=input[:output],..." into a price table.
func ParsePricing(s string) (map[string]ModelPrice, error) {
	table := make(map[string]ModelPrice)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		model, prices, ok := strings.Cut(entry, "=")
		if !ok || model == "" {
			return nil, fmt.Errorf("%w: pricing entry %q", domain.ErrInvalidInput, entry)
		}

		in, out, hasOut := strings.Cut(prices, ":")
		var price ModelPrice
		var err error
		if price.InputPerMillion, err = decimal.NewFromString(in); err != nil {
			return nil, fmt.Errorf("%w: pricing entry %q: %v", domain.ErrInvalidInput, entry, err)
		}
		if hasOut {
			if price.OutputPerMillion, err = decimal.NewFromString(out); err != nil {
				return nil, fmt.Errorf("%w: pricing entry %q: %v", domain.ErrInvalidInput, entry, err)
			}
		}
		table[strings.TrimSpace(model)] = price
	}
	return table, nil
}
