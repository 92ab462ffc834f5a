package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

type TokenContractRepo struct {
	db *DB
}

func NewTokenContractRepo(db *DB) *TokenContractRepo {
	return &TokenContractRepo{db: db}
}

func (r *TokenContractRepo) ListByChain(ctx context.Context, c model.Chain) ([]model.TokenContract, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chain, contract_address, symbol, decimals, created_at
		FROM token_contracts
		WHERE chain = $1
		ORDER BY symbol
	`, string(c))
	if err != nil {
		return nil, fmt.Errorf("list token contracts %s: %w", c, err)
	}
	defer rows.Close()

	var contracts []model.TokenContract
	for rows.Next() {
		var tc model.TokenContract
		if err := rows.Scan(&tc.ID, &tc.Chain, &tc.ContractAddress, &tc.Symbol, &tc.Decimals, &tc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token contract: %w", err)
		}
		contracts = append(contracts, tc)
	}
	return contracts, rows.Err()
}

// Upsert registers an allow-listed contract. Addresses are lowercased so the
// (chain, contract_address) key survives checksum-cased input.
func (r *TokenContractRepo) Upsert(ctx context.Context, tc *model.TokenContract) error {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_contracts (id, chain, contract_address, symbol, decimals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain, contract_address)
		DO UPDATE SET symbol = EXCLUDED.symbol, decimals = EXCLUDED.decimals
	`, tc.ID, string(tc.Chain), strings.ToLower(tc.ContractAddress), tc.Symbol, tc.Decimals)
	if err != nil {
		return fmt.Errorf("upsert token contract %s: %w", tc.Symbol, err)
	}
	return nil
}
