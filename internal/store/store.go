package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a catalog product. The catalog itself is managed
// elsewhere; this is used for seeding.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, category_id, price, stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		p.SKU, p.Name, p.CategoryID, p.Price, p.Stock, p.IsActive).Scan(&p.ID, &p.CreatedAt)
}

// ListActiveOffers returns active offers whose window contains now
func (s *Store) ListActiveOffers(ctx context.Context, now time.Time) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers,
		"SELECT * FROM offers WHERE is_active AND valid_from <= $1 AND valid_until >= $1", now)
	return offers, err
}

// CreateOffer creates a new offer
func (s *Store) CreateOffer(ctx context.Context, o *models.Offer) error {
	query := `
		INSERT INTO offers (name, scope, target_id, discount_percent, valid_from, valid_until, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		o.Name, o.Scope, o.TargetID, o.DiscountPercent, o.ValidFrom, o.ValidUntil, o.IsActive).Scan(&o.ID, &o.CreatedAt)
}

// ListOffers returns all offers, newest first
func (s *Store) ListOffers(ctx context.Context) ([]models.Offer, error) {
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers, "SELECT * FROM offers ORDER BY created_at DESC")
	return offers, err
}

// DeactivateOffer disables an offer; false means no such offer
func (s *Store) DeactivateOffer(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE offers SET is_active = FALSE WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAddress retrieves an address owned by userID
func (s *Store) GetAddress(ctx context.Context, userID, id int64) (*models.Address, error) {
	var a models.Address
	err := s.db.GetContext(ctx, &a,
		`SELECT id, user_id, name, phone, line1, line2, city, state, pincode
		 FROM addresses WHERE id = $1 AND user_id = $2`, id, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAddress creates a new address
func (s *Store) CreateAddress(ctx context.Context, a *models.Address) error {
	query := `
		INSERT INTO addresses (user_id, name, phone, line1, line2, city, state, pincode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return s.db.GetContext(ctx, &a.ID, query,
		a.UserID, a.Name, a.Phone, a.Line1, a.Line2, a.City, a.State, a.Pincode)
}

// ListAddresses returns a user's addresses
func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	addresses := []models.Address{}
	err := s.db.SelectContext(ctx, &addresses,
		`SELECT id, user_id, name, phone, line1, line2, city, state, pincode
		 FROM addresses WHERE user_id = $1 ORDER BY id`, userID)
	return addresses, err
}
