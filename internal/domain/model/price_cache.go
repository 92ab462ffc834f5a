package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache is the persistent read-through cache row backing the price
// resolver. One row per cache key, overwritten wholesale on refresh.
type PriceCache struct {
	ID        string                     `db:"id"`
	Data      map[string]decimal.Decimal `db:"data"`
	UpdatedAt time.Time                  `db:"updated_at"`
}

// Fresh reports whether the row is still inside its TTL window.
func (p *PriceCache) Fresh(ttl time.Duration, now time.Time) bool {
	if p == nil {
		return false
	}
	return now.Sub(p.UpdatedAt) < ttl
}
