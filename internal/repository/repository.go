// Package repository is the Postgres persistence layer. It implements the
// same store interfaces as storage.MemoryStore on top of a pgx pool.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Repository wraps all SQL used throughout the API and worker.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// notFound maps pgx.ErrNoRows onto model.ErrNotFound.
func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("select %s: %w", what, err)
}

// affected turns an update or delete of zero rows into model.ErrNotFound.
func affected(what string, n int64) error {
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullable(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
