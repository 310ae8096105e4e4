package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Accounts provisions merchants and users. Adapted from the teacher's
// CreateMerchantHandler persistence step (pkg/api/merchants.go), split out
// of the HTTP layer and generalized to also provision user accounts, since
// spec.md's Balance Account model (§3) assumes both parties already exist.
type Accounts struct{ db *sql.DB }

func NewAccounts(db *sql.DB) *Accounts { return &Accounts{db: db} }

func (a *Accounts) CreateMerchant(ctx context.Context, name, walletAddress string) (*Merchant, error) {
	m := &Merchant{
		ID:                    uuid.New().String(),
		Name:                  name,
		APIKey:                uuid.New().String(),
		MerchantWalletAddress: walletAddress,
		CreatedAt:             time.Now().UTC(),
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO merchants (id, name, api_key, merchant_wallet_address, created_at) VALUES (?,?,?,?,?)
	`, m.ID, m.Name, m.APIKey, m.MerchantWalletAddress, m.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Accounts) CreateUser(ctx context.Context, name, walletAddress string) (*User, error) {
	u := &User{
		ID:            uuid.New().String(),
		Name:          name,
		APIKey:        uuid.New().String(),
		WalletAddress: walletAddress,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO users (id, name, api_key, wallet_address, created_at) VALUES (?,?,?,?,?)
	`, u.ID, u.Name, u.APIKey, u.WalletAddress, u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (a *Accounts) MerchantByAPIKey(ctx context.Context, key string) (*Merchant, error) {
	var m Merchant
	var created string
	err := a.db.QueryRowContext(ctx, `SELECT id, name, api_key, merchant_wallet_address, created_at FROM merchants WHERE api_key = ?`, key).
		Scan(&m.ID, &m.Name, &m.APIKey, &m.MerchantWalletAddress, &created)
	if err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &m, nil
}

func (a *Accounts) UserByAPIKey(ctx context.Context, key string) (*User, error) {
	var u User
	var created string
	err := a.db.QueryRowContext(ctx, `SELECT id, name, api_key, wallet_address, created_at FROM users WHERE api_key = ?`, key).
		Scan(&u.ID, &u.Name, &u.APIKey, &u.WalletAddress, &created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}
