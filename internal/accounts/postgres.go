package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/chatauth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the account repository backed by the accounts table. It also
// mirrors lockout state onto the account row.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ chatauth.AccountRepository = (*Postgres)(nil)
	_ chatauth.LockoutMirror     = (*Postgres)(nil)
)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const selectAccount = `SELECT id, identifier, password_hash, roles, permissions, disabled FROM accounts`

func (p *Postgres) FindByIdentifier(ctx context.Context, identifier string) (chatauth.Account, error) {
	row := p.pool.QueryRow(ctx, selectAccount+` WHERE lower(identifier) = lower($1)`, identifier)
	return scanAccount(row)
}

func (p *Postgres) FindByID(ctx context.Context, id string) (chatauth.Account, error) {
	row := p.pool.QueryRow(ctx, selectAccount+` WHERE id = $1`, id)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (chatauth.Account, error) {
	var acct chatauth.Account
	err := row.Scan(&acct.ID, &acct.Identifier, &acct.PasswordHash, &acct.Roles, &acct.Permissions, &acct.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatauth.Account{}, chatauth.ErrAccountNotFound
	}
	if err != nil {
		return chatauth.Account{}, fmt.Errorf("scan account: %w", err)
	}
	return acct, nil
}

func (p *Postgres) IncrementFailedAttempts(ctx context.Context, id string) error {
	return p.exec(ctx, `UPDATE accounts SET failed_attempts = failed_attempts + 1, updated_at = now() WHERE id = $1`, id)
}

func (p *Postgres) ResetFailedAttempts(ctx context.Context, id string) error {
	return p.exec(ctx, `UPDATE accounts SET failed_attempts = 0, locked_until = NULL, updated_at = now() WHERE id = $1`, id)
}

func (p *Postgres) Lock(ctx context.Context, id string, until time.Time) error {
	return p.exec(ctx, `UPDATE accounts SET locked_until = $2, updated_at = now() WHERE id = $1`, id, until)
}

func (p *Postgres) Unlock(ctx context.Context, id string) error {
	return p.exec(ctx, `UPDATE accounts SET failed_attempts = 0, locked_until = NULL, updated_at = now() WHERE id = $1`, id)
}

// UpdatePasswordHash replaces the stored hash after a parameter upgrade.
func (p *Postgres) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return p.exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (p *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return chatauth.ErrAccountNotFound
	}
	return nil
}
