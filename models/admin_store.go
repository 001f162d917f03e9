package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var ErrUserExists = errors.New("user already exists")

type PostgresAdminStore struct {
	db *sql.DB
}

func NewPostgresAdminStore(db *sql.DB) *PostgresAdminStore {
	return &PostgresAdminStore{db: db}
}

func (s *PostgresAdminStore) FindByEmail(ctx context.Context, email string) (AdminUser, error) {
	var u AdminUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role FROM admin_users WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminUser{}, ErrUserNotFound
	}
	if err != nil {
		return AdminUser{}, fmt.Errorf("load admin user: %w", err)
	}
	return u, nil
}

func (s *PostgresAdminStore) Create(ctx context.Context, email, passwordHash string) (AdminUser, error) {
	u := AdminUser{ID: uuid.New().String(), Email: strings.TrimSpace(email), PasswordHash: passwordHash, Role: "admin"}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (id, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
	`, u.ID, u.Email, u.PasswordHash, u.Role)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return AdminUser{}, ErrUserExists
	}
	if err != nil {
		return AdminUser{}, fmt.Errorf("insert admin user: %w", err)
	}
	return u, nil
}

// MemoryAdminStore holds admins in process. It backs the bootstrap admin
// from configuration and tests.
type MemoryAdminStore struct {
	mu    sync.RWMutex
	users map[string]AdminUser
}

func NewMemoryAdminStore(users ...AdminUser) *MemoryAdminStore {
	s := &MemoryAdminStore{users: map[string]AdminUser{}}
	for _, u := range users {
		s.users[strings.ToLower(u.Email)] = u
	}
	return s
}

func (s *MemoryAdminStore) FindByEmail(_ context.Context, email string) (AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return AdminUser{}, ErrUserNotFound
	}
	return u, nil
}

var (
	_ AdminStore = (*PostgresAdminStore)(nil)
	_ AdminStore = (*MemoryAdminStore)(nil)
)
