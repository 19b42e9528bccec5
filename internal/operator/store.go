// Package operator manages admin accounts and their sessions.
package operator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 7 * 24 * time.Hour

// Store provides database operations for operators and their sessions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new operator store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new operator with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, in CreateOperatorInput) (*Operator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	op := &Operator{}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO operators (email, password_hash, name)
		 VALUES ($1, $2, $3)
		 RETURNING id, email, password_hash, name, created_at`,
		in.Email, string(hash), in.Name,
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Name, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operator: %w", err)
	}
	return op, nil
}

// GetByEmail retrieves an operator by email, or nil if none exists.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	op := &Operator{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, name, created_at
		 FROM operators WHERE email = $1`, email,
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Name, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting operator by email: %w", err)
	}
	return op, nil
}

// Authenticate verifies credentials and returns the operator, or nil when
// the email is unknown or the password does not match.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Operator, error) {
	op, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return op, nil
}

// CreateSession creates a session for the given operator. It returns the
// opaque plaintext token to be sent to the client; only its hash is stored.
func (s *Store) CreateSession(ctx context.Context, operatorID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO operator_sessions (token_hash, operator_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, operator_id, created_at, expires_at`,
		tokenHash, operatorID, now, now.Add(sessionDuration),
	).Scan(&sess.TokenHash, &sess.OperatorID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating operator session: %w", err)
	}

	return plaintext, sess, nil
}

// LookupSession resolves a plaintext session token to its operator. Returns
// nil for unknown or expired sessions.
func (s *Store) LookupSession(ctx context.Context, plaintext string) (*Operator, error) {
	op := &Operator{}
	err := s.pool.QueryRow(ctx,
		`SELECT o.id, o.email, o.password_hash, o.name, o.created_at
		 FROM operator_sessions s JOIN operators o ON s.operator_id = o.id
		 WHERE s.token_hash = $1 AND s.expires_at > now()`,
		hashToken(plaintext),
	).Scan(&op.ID, &op.Email, &op.PasswordHash, &op.Name, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up operator session: %w", err)
	}
	return op, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM operator_sessions WHERE token_hash = $1`, hashToken(plaintext))
	if err != nil {
		return fmt.Errorf("deleting operator session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all expired sessions.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM operator_sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired operator sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
