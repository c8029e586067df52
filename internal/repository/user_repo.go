package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"avatar-api/internal/domain"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrConflict  = errors.New("user uniqueness conflict")
	ErrAmbiguous = errors.New("provider id matches more than one user")
)

// UserRepository define el contrato de persistencia para usuarios.
// La unicidad de (provider, provider_id) y de email la garantiza el almacenamiento:
// Create y UpdateIdentity devuelven ErrConflict cuando se viola.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByProvider(ctx context.Context, provider domain.Provider, providerID string) (domain.User, error)
	GetByProviderID(ctx context.Context, providerID string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateIdentity(ctx context.Context, id string, update IdentityUpdate) (domain.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	Count(ctx context.Context) (int64, error)
}

// IdentityUpdate reasigna el proveedor y refresca metadatos.
// Name y PhotoURL vacíos conservan el valor almacenado.
type IdentityUpdate struct {
	Provider   domain.Provider
	ProviderID string
	Name       string
	PhotoURL   string
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool dbtx
}

func NewPgUserRepository(pool dbtx) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, name, photo_url, provider, COALESCE(provider_id, ''), is_active, score, level, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, name, photo_url, provider, provider_id, is_active, score, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		strings.ToLower(user.Email),
		user.Name,
		user.PhotoURL,
		string(user.Provider),
		user.ProviderID,
		user.IsActive,
		user.Score,
		user.Level,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return classify(err, "USER_CREATE_FAILED").With("email", user.Email).Wrap(causeOf(err))
	}
	return nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, classify(err, "USER_GET_BY_ID_FAILED").With("id", id).Wrap(causeOf(err))
	}
	return u, nil
}

func (r *PgUserRepository) GetByProvider(ctx context.Context, provider domain.Provider, providerID string) (domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = $1 AND provider_id = $2`,
		string(provider), providerID,
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, classify(err, "USER_GET_BY_PROVIDER_FAILED").
			With("provider", provider).
			With("provider_id", providerID).
			Wrap(causeOf(err))
	}
	return u, nil
}

// GetByProviderID busca por el subject sin conocer el proveedor, que es lo único
// que recibe el gate. Dos coincidencias se reportan como ErrAmbiguous.
func (r *PgUserRepository) GetByProviderID(ctx context.Context, providerID string) (domain.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider_id = $1 AND provider <> 'local' LIMIT 2`,
		providerID,
	)
	if err != nil {
		return domain.User{}, oops.Code("USER_GET_BY_PROVIDER_ID_FAILED").With("provider_id", providerID).Wrap(err)
	}
	defer rows.Close()

	var found []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return domain.User{}, oops.Code("USER_GET_BY_PROVIDER_ID_FAILED").With("provider_id", providerID).Wrap(err)
		}
		found = append(found, u)
	}
	if err := rows.Err(); err != nil {
		return domain.User{}, oops.Code("USER_GET_BY_PROVIDER_ID_FAILED").With("provider_id", providerID).Wrap(err)
	}

	switch len(found) {
	case 0:
		return domain.User{}, oops.Code("USER_NOT_FOUND").With("provider_id", providerID).Wrap(ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return domain.User{}, oops.Code("USER_AMBIGUOUS").With("provider_id", providerID).Wrap(ErrAmbiguous)
	}
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, classify(err, "USER_GET_BY_EMAIL_FAILED").With("email", email).Wrap(causeOf(err))
	}
	return u, nil
}

func (r *PgUserRepository) UpdateIdentity(ctx context.Context, id string, update IdentityUpdate) (domain.User, error) {
	const query = `
		UPDATE users
		SET provider = $2,
		    provider_id = $3,
		    name = COALESCE(NULLIF($4, ''), name),
		    photo_url = COALESCE(NULLIF($5, ''), photo_url),
		    updated_at = $6
		WHERE id = $1
		RETURNING ` + userColumns
	row := r.pool.QueryRow(ctx, query,
		id,
		string(update.Provider),
		update.ProviderID,
		update.Name,
		update.PhotoURL,
		time.Now().UTC(),
	)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, classify(err, "USER_UPDATE_FAILED").
			With("id", id).
			With("provider", update.Provider).
			Wrap(causeOf(err))
	}
	return u, nil
}

func (r *PgUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return oops.Code("USER_SET_ACTIVE_FAILED").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id).Wrap(ErrNotFound)
	}
	return nil
}

func (r *PgUserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, oops.Code("USER_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u        domain.User
		provider string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PhotoURL,
		&provider,
		&u.ProviderID,
		&u.IsActive,
		&u.Score,
		&u.Level,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Provider = domain.Provider(provider)
	return u, nil
}

// classify elige el código oops según el tipo de fallo; causeOf elige el error envuelto.
func classify(err error, fallback string) oops.OopsErrorBuilder {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return oops.Code("USER_NOT_FOUND")
	case isUniqueViolation(err):
		var pgErr *pgconn.PgError
		errors.As(err, &pgErr)
		return oops.Code("USER_CONFLICT").With("constraint", pgErr.ConstraintName)
	default:
		return oops.Code(fallback)
	}
}

func causeOf(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrConflict
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
