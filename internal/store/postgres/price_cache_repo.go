package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type PriceCacheRepo struct {
	db *DB
}

func NewPriceCacheRepo(db *DB) *PriceCacheRepo {
	return &PriceCacheRepo{db: db}
}

func (r *PriceCacheRepo) Get(ctx context.Context, id string) (*model.PriceCache, error) {
	var (
		row model.PriceCache
		raw []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, data, updated_at FROM price_cache WHERE id = $1
	`, id).Scan(&row.ID, &raw, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get price cache %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &row.Data); err != nil {
		return nil, fmt.Errorf("decode price cache %s: %w", id, err)
	}
	return &row, nil
}

// Put overwrites the row wholesale; updated_at restarts the TTL window.
func (r *PriceCacheRepo) Put(ctx context.Context, id string, data map[string]decimal.Decimal) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode price cache %s: %w", id, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO price_cache (id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, id, raw)
	if err != nil {
		return fmt.Errorf("put price cache %s: %w", id, err)
	}
	return nil
}
