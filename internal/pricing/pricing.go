// Package pricing converts token usage into milicredit costs. The calculator
// is pure: no I/O, identical inputs always produce the identical integer.
package pricing

import (
	"errors"
	"strings"

	"github.com/opsbase/tally/internal/credit"
)

type PowerLevel string

const (
	PowerEco       PowerLevel = "eco"
	PowerBalanced  PowerLevel = "balanced"
	PowerPrecision PowerLevel = "precision"
)

type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// ModelRate prices a model in milicredits per 1000 tokens.
type ModelRate struct {
	InputPer1K  credit.Milicredits
	OutputPer1K credit.Milicredits
}

type CostRequest struct {
	Model     string
	TokensIn  int64
	TokensOut int64
	Power     PowerLevel
	Tier      Tier
}

var (
	ErrInvalidTokens = errors.New("invalid_tokens")
	ErrUnknownPower  = errors.New("unknown_power_level")
	ErrUnknownTier   = errors.New("unknown_tier")
)

// DefaultRates carries the platform rate card. Unknown models fall back to
// DefaultFallbackRate rather than failing the request.
var DefaultRates = map[string]ModelRate{
	"gpt-4o": {InputPer1K: 2500, OutputPer1K: 10000},
	"gpt-4o-mini": {InputPer1K: 150, OutputPer1K: 600},
	"o3": {InputPer1K: 10000, OutputPer1K: 40000},
	"claude-sonnet-4": {InputPer1K: 3000, OutputPer1K: 15000},
	"claude-haiku-3.5": {InputPer1K: 800, OutputPer1K: 4000},
	"gemini-2.5-pro": {InputPer1K: 1250, OutputPer1K: 10000},
	"gemini-2.5-flash": {InputPer1K: 150, OutputPer1K: 600},
	"mistral-large": {InputPer1K: 2000, OutputPer1K: 6000},
	"deepseek-chat": {InputPer1K: 270, OutputPer1K: 1100},
}

var DefaultFallbackRate = ModelRate{InputPer1K: 1000, OutputPer1K: 3000}

type Calculator struct {
	rates    map[string]ModelRate
	fallback ModelRate
}

type Option func(*Calculator)

// WithRates replaces the rate card.
func WithRates(rates map[string]ModelRate) Option {
	return func(c *Calculator) {
		c.rates = rates
	}
}

// WithFallbackRate replaces the unknown-model rate.
func WithFallbackRate(rate ModelRate) Option {
	return func(c *Calculator) {
		c.fallback = rate
	}
}

func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		rates:    DefaultRates,
		fallback: DefaultFallbackRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cost prices the usage. All arithmetic stays in exact integer rationals;
// rounding happens once, half up, at the final division.
func (c *Calculator) Cost(req CostRequest) (credit.Milicredits, error) {
	if req.TokensIn < 0 || req.TokensOut < 0 {
		return 0, ErrInvalidTokens
	}
	pNum, pDen, ok := powerRatio(req.Power)
	if !ok {
		return 0, ErrUnknownPower
	}
	tNum, tDen, ok := tierRatio(req.Tier)
	if !ok {
		return 0, ErrUnknownTier
	}

	rate := c.Rate(req.Model)
	base := req.TokensIn*int64(rate.InputPer1K) + req.TokensOut*int64(rate.OutputPer1K)

	num := base * pNum * tNum
	den := int64(1000) * pDen * tDen
	return credit.Milicredits(roundHalfUp(num, den)), nil
}

// Rate returns the card entry for a model, or the fallback rate.
func (c *Calculator) Rate(model string) ModelRate {
	if rate, ok := c.rates[strings.ToLower(strings.TrimSpace(model))]; ok {
		return rate
	}
	return c.fallback
}

func powerRatio(p PowerLevel) (num, den int64, ok bool) {
	switch p {
	case PowerEco:
		return 1, 2, true
	case PowerBalanced, "":
		return 1, 1, true
	case PowerPrecision:
		return 2, 1, true
	default:
		return 0, 0, false
	}
}

func tierRatio(t Tier) (num, den int64, ok bool) {
	switch t {
	case TierFree, "":
		return 1, 1, true
	case TierStarter:
		return 6, 5, true
	case TierProfessional:
		return 1, 1, true
	case TierEnterprise:
		return 4, 5, true
	default:
		return 0, 0, false
	}
}

func roundHalfUp(num, den int64) int64 {
	q := num / den
	r := num % den
	if 2*r >= den {
		q++
	}
	return q
}
