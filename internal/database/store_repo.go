package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

var ErrStoreExists = errors.New("store already exists at this address")

// SearchStores searches the local registry by name similarity. Results
// come back as candidates tagged local_registry with the trigram
// similarity as the match confidence.
func (db *DB) SearchStores(ctx context.Context, params *models.StoreSearchParams) ([]models.StoreCandidate, error) {
	limit := params.Limit
	if limit < 1 || limit > 50 {
		limit = 10
	}

	query := `
		SELECT
			id::text, name, full_address, city, province, postal_code,
			latitude, longitude,
			similarity(LOWER(name), LOWER($1)) AS score
		FROM stores
		WHERE LOWER(name) LIKE '%' || LOWER($1) || '%'
		   OR similarity(LOWER(name), LOWER($1)) > 0.3
		ORDER BY score DESC, name ASC
		LIMIT $2
	`

	rows, err := db.Pool.Query(ctx, query, params.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching stores: %w", err)
	}
	defer rows.Close()

	var candidates []models.StoreCandidate
	for rows.Next() {
		var c models.StoreCandidate
		var id string
		var score float64
		err := rows.Scan(
			&id, &c.Name, &c.FullAddress, &c.City, &c.Province, &c.PostalCode,
			&c.Latitude, &c.Longitude, &score,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning store row: %w", err)
		}
		c.Source = models.SourceLocalRegistry
		c.ExternalKey = &id
		c.MatchConfidence = &score
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// CreateStore inserts a manually entered store into the registry
func (db *DB) CreateStore(ctx context.Context, req *models.CreateStoreRequest) (*models.StoreCandidate, error) {
	// Reject duplicates at the same address
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM stores WHERE LOWER(name) = LOWER($1) AND LOWER(full_address) = LOWER($2))",
		req.Name, req.Address,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking for existing store: %w", err)
	}
	if exists {
		return nil, ErrStoreExists
	}

	var id string
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO stores (name, full_address, city, province, postal_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`, req.Name, req.Address, req.City, req.Province, req.PostalCode).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	return &models.StoreCandidate{
		Source:      models.SourceManualEntry,
		ExternalKey: &id,
		Name:        req.Name,
		FullAddress: req.Address,
		City:        req.City,
		Province:    req.Province,
		PostalCode:  req.PostalCode,
	}, nil
}
