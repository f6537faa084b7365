package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/transfer-checkout/internal/domain/customer"
)

const (
	getUserByIDSQL = `SELECT id, name, email, role, default_address FROM users WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, name, email, role, default_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			default_address = EXCLUDED.default_address`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetByID returns a user with the default shipping address, if any.
func (r *CustomerRepository) GetByID(ctx context.Context, id string) (*customer.User, error) {
	rows, err := r.pool.Query(ctx, getUserByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (customer.User, error) {
		var (
			u       customer.User
			address []byte
		)
		if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &address); err != nil {
			return u, err
		}
		if len(address) > 0 {
			u.DefaultAddress = new(customer.Address)
			if err := json.Unmarshal(address, u.DefaultAddress); err != nil {
				return u, errors.Wrap(err, "decode default address")
			}
		}
		return u, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	return &u, nil
}

// Upsert writes a user profile.
func (r *CustomerRepository) Upsert(ctx context.Context, u *customer.User) error {
	var address []byte
	if u.DefaultAddress != nil {
		var err error
		if address, err = json.Marshal(u.DefaultAddress); err != nil {
			return errors.Wrap(err, "encode default address")
		}
	}
	if _, err := r.pool.Exec(ctx, upsertUserSQL, u.ID, u.Name, u.Email, u.Role, address); err != nil {
		return errors.Wrapf(err, "upsert user %q", u.ID)
	}
	return nil
}
