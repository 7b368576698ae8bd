package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystonehq/identity/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
	_ OriginRepository       = (*PostgresOriginRepo)(nil)
	_ AuditLogRepository     = (*PostgresAuditLogRepo)(nil)
)

const uniqueViolation = "23505"

func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresUserRepo implements UserRepository with pgx.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, roles,
is_email_verified, is_active, is_mfa_enabled, mfa_secret, mfa_backup_codes,
email_verification_token, email_verification_expiry,
password_reset_token, password_reset_expiry,
last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u     domain.User
		roles []string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&roles,
		&u.IsEmailVerified,
		&u.IsActive,
		&u.IsMfaEnabled,
		&u.MfaSecret,
		&u.MfaBackupCodes,
		&u.EmailVerificationToken,
		&u.EmailVerificationExpiry,
		&u.PasswordResetToken,
		&u.PasswordResetExpiry,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Roles = make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		u.Roles = append(u.Roles, domain.Role(r))
	}
	return u, nil
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	u, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return domain.User{}, mapError("get user by email", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return domain.User{}, mapError("get user by id", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) GetByVerificationToken(ctx context.Context, token string, now time.Time) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
WHERE email_verification_token = $1 AND email_verification_expiry >= $2`
	u, err := scanUser(r.db.QueryRow(ctx, query, token, now))
	if err != nil {
		return domain.User{}, mapError("get user by verification token", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) GetByResetToken(ctx context.Context, token string, now time.Time) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
WHERE password_reset_token = $1 AND password_reset_expiry >= $2`
	u, err := scanUser(r.db.QueryRow(ctx, query, token, now))
	if err != nil {
		return domain.User{}, mapError("get user by reset token", err)
	}
	return u, nil
}

const insertUserSQL = `INSERT INTO users (id, email, password_hash, first_name, last_name, roles,
is_email_verified, is_active, is_mfa_enabled, mfa_secret, mfa_backup_codes,
email_verification_token, email_verification_expiry)
VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		rolesToStrings(user.Roles),
		user.IsEmailVerified,
		user.IsActive,
		user.IsMfaEnabled,
		user.MfaSecret,
		user.MfaBackupCodes,
		user.EmailVerificationToken,
		user.EmailVerificationExpiry,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapError("create user", err)
	}
	return created, nil
}

const updateUserSQL = `UPDATE users SET
email = lower($2),
password_hash = $3,
first_name = $4,
last_name = $5,
roles = $6,
is_email_verified = $7,
is_active = $8,
email_verification_token = $9,
email_verification_expiry = $10,
password_reset_token = $11,
password_reset_expiry = $12,
updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, updateUserSQL,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		rolesToStrings(user.Roles),
		user.IsEmailVerified,
		user.IsActive,
		user.EmailVerificationToken,
		user.EmailVerificationExpiry,
		user.PasswordResetToken,
		user.PasswordResetExpiry,
	)
	updated, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapError("update user", err)
	}
	return updated, nil
}

func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = now() WHERE id = $1`, userID, at)
	if err != nil {
		return mapError("update last login", err)
	}
	return nil
}

func (r *PostgresUserRepo) SetMfaPending(ctx context.Context, userID int64, secret string, hashedBackupCodes []string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET mfa_secret = $2, mfa_backup_codes = $3, updated_at = now()
WHERE id = $1 AND is_mfa_enabled = FALSE`, userID, secret, hashedBackupCodes)
	if err != nil {
		return mapError("set mfa pending", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set mfa pending: %w", ErrStaleWrite)
	}
	return nil
}

func (r *PostgresUserRepo) ActivateMfa(ctx context.Context, userID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_mfa_enabled = TRUE, updated_at = now()
WHERE id = $1 AND mfa_secret <> '' AND is_mfa_enabled = FALSE`, userID)
	if err != nil {
		return mapError("activate mfa", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activate mfa: %w", ErrStaleWrite)
	}
	return nil
}

func (r *PostgresUserRepo) ClearMfa(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET is_mfa_enabled = FALSE, mfa_secret = '', mfa_backup_codes = '{}', updated_at = now()
WHERE id = $1`, userID)
	if err != nil {
		return mapError("clear mfa", err)
	}
	return nil
}

func (r *PostgresUserRepo) List(ctx context.Context) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapError("list users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list users", err)
	}
	return users, nil
}

// PostgresRefreshTokenRepo implements RefreshTokenRepository.
type PostgresRefreshTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRefreshTokenRepo(pool *pgxpool.Pool) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: pool}
}

const refreshTokenColumns = `id, user_id, token_hash, expires_at, is_revoked, revoked_at, device_info, ip_address, created_at`

func scanRefreshToken(row pgx.Row) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.IsRevoked,
		&t.RevokedAt,
		&t.DeviceInfo,
		&t.IPAddress,
		&t.CreatedAt,
	)
	return t, err
}

func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error) {
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, device_info, ip_address)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + refreshTokenColumns
	created, err := scanRefreshToken(r.db.QueryRow(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.DeviceInfo, token.IPAddress))
	if err != nil {
		return domain.RefreshToken{}, mapError("create refresh token", err)
	}
	return created, nil
}

func (r *PostgresRefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	const query = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	t, err := scanRefreshToken(r.db.QueryRow(ctx, query, tokenHash))
	if err != nil {
		return domain.RefreshToken{}, mapError("get refresh token", err)
	}
	return t, nil
}

func (r *PostgresRefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE token_hash = $1`, tokenHash, at)
	if err != nil {
		return mapError("revoke refresh token", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND is_revoked = FALSE`, userID, at)
	if err != nil {
		return mapError("revoke user refresh tokens", err)
	}
	return nil
}

// PostgresOriginRepo implements OriginRepository.
type PostgresOriginRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOriginRepo(pool *pgxpool.Pool) *PostgresOriginRepo {
	return &PostgresOriginRepo{db: pool}
}

const originColumns = `id, url, description, is_active, created_at, updated_at`

func scanOrigin(row pgx.Row) (domain.AllowedOrigin, error) {
	var o domain.AllowedOrigin
	err := row.Scan(&o.ID, &o.URL, &o.Description, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PostgresOriginRepo) ListActive(ctx context.Context) ([]domain.AllowedOrigin, error) {
	return r.list(ctx, `SELECT `+originColumns+` FROM allowed_origins WHERE is_active = TRUE ORDER BY created_at DESC`)
}

func (r *PostgresOriginRepo) List(ctx context.Context) ([]domain.AllowedOrigin, error) {
	return r.list(ctx, `SELECT `+originColumns+` FROM allowed_origins ORDER BY created_at DESC`)
}

func (r *PostgresOriginRepo) list(ctx context.Context, query string) ([]domain.AllowedOrigin, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, mapError("list origins", err)
	}
	defer rows.Close()

	var origins []domain.AllowedOrigin
	for rows.Next() {
		o, err := scanOrigin(rows)
		if err != nil {
			return nil, mapError("list origins", err)
		}
		origins = append(origins, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list origins", err)
	}
	return origins, nil
}

func (r *PostgresOriginRepo) GetByID(ctx context.Context, id int64) (domain.AllowedOrigin, error) {
	o, err := scanOrigin(r.db.QueryRow(ctx, `SELECT `+originColumns+` FROM allowed_origins WHERE id = $1`, id))
	if err != nil {
		return domain.AllowedOrigin{}, mapError("get origin", err)
	}
	return o, nil
}

func (r *PostgresOriginRepo) Create(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error) {
	const query = `INSERT INTO allowed_origins (id, url, description, is_active)
VALUES ($1, $2, $3, $4)
RETURNING ` + originColumns
	created, err := scanOrigin(r.db.QueryRow(ctx, query, origin.ID, origin.URL, origin.Description, origin.IsActive))
	if err != nil {
		return domain.AllowedOrigin{}, mapError("create origin", err)
	}
	return created, nil
}

func (r *PostgresOriginRepo) Update(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error) {
	const query = `UPDATE allowed_origins SET url = $2, description = $3, is_active = $4, updated_at = now()
WHERE id = $1
RETURNING ` + originColumns
	updated, err := scanOrigin(r.db.QueryRow(ctx, query, origin.ID, origin.URL, origin.Description, origin.IsActive))
	if err != nil {
		return domain.AllowedOrigin{}, mapError("update origin", err)
	}
	return updated, nil
}

func (r *PostgresOriginRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM allowed_origins WHERE id = $1`, id)
	if err != nil {
		return mapError("delete origin", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete origin: %w", ErrNotFound)
	}
	return nil
}

func (r *PostgresOriginRepo) SetActive(ctx context.Context, id int64, active bool) (domain.AllowedOrigin, error) {
	const query = `UPDATE allowed_origins SET is_active = $2, updated_at = now()
WHERE id = $1
RETURNING ` + originColumns
	updated, err := scanOrigin(r.db.QueryRow(ctx, query, id, active))
	if err != nil {
		return domain.AllowedOrigin{}, mapError("toggle origin", err)
	}
	return updated, nil
}

// PostgresAuditLogRepo implements AuditLogRepository.
type PostgresAuditLogRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuditLogRepo(pool *pgxpool.Pool) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: pool}
}

func (r *PostgresAuditLogRepo) Create(ctx context.Context, entry domain.AuditLogEntry) error {
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, ip_address, user_agent, success)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.Action, entry.Resource, entry.IPAddress, entry.UserAgent, entry.Success)
	if err != nil {
		return mapError("create audit log", err)
	}
	return nil
}
