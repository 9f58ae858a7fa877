package shipping

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hanseoyun/shopcore-backend/pkg/config"
)

// Quote is the shipping cost breakdown for one order.
type Quote struct {
	BaseFee         decimal.Decimal
	RemoteSurcharge decimal.Decimal
}

// Total returns the combined shipping charge.
func (q Quote) Total() decimal.Decimal {
	return q.BaseFee.Add(q.RemoteSurcharge)
}

// Calculator prices shipping from the order subtotal and destination postal
// code. Orders at or above the free threshold ship free; remote destinations
// pay the surcharge regardless of subtotal.
type Calculator struct {
	freeThreshold   decimal.Decimal
	baseFee         decimal.Decimal
	remoteSurcharge decimal.Decimal
	remotePrefixes  []string
}

// NewCalculator builds a calculator from the shipping config.
func NewCalculator(cfg config.ShippingConfig) *Calculator {
	prefixes := make([]string, 0, len(cfg.RemotePrefixes))
	for _, prefix := range cfg.RemotePrefixes {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	return &Calculator{
		freeThreshold:   cfg.FreeThreshold,
		baseFee:         cfg.BaseFee,
		remoteSurcharge: cfg.RemoteSurcharge,
		remotePrefixes:  prefixes,
	}
}

// QuoteFor prices shipping for a subtotal going to postalCode.
func (c *Calculator) QuoteFor(subtotal decimal.Decimal, postalCode string) Quote {
	quote := Quote{
		BaseFee:         decimal.Zero,
		RemoteSurcharge: decimal.Zero,
	}
	if subtotal.LessThan(c.freeThreshold) {
		quote.BaseFee = c.baseFee
	}
	if c.isRemote(postalCode) {
		quote.RemoteSurcharge = c.remoteSurcharge
	}
	return quote
}

func (c *Calculator) isRemote(postalCode string) bool {
	code := strings.TrimSpace(postalCode)
	if code == "" {
		return false
	}
	for _, prefix := range c.remotePrefixes {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}
