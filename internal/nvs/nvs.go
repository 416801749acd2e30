// Package nvs emulates the microcontroller's reserved non-volatile region:
// named fixed-size blocks that are read and written whole.
package nvs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Size is the reserved region every block must fit in.
const Size = 256

var (
	// ErrBlank is returned when a block has never been written.
	ErrBlank = errors.New("nvs: block blank")
	// ErrTooLarge is returned for payloads over Size bytes.
	ErrTooLarge = errors.New("nvs: payload exceeds reserved region")
)

// SQLBlock stores one named block as a single row. A write replaces the row
// in one statement so a power cut leaves either the old or the new image.
type SQLBlock struct {
	db   *sql.DB
	name string
}

func NewSQLBlock(db *sql.DB, name string) *SQLBlock {
	return &SQLBlock{db: db, name: name}
}

func (b *SQLBlock) ReadBlock(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM nvs_blocks WHERE name = ?`, b.name,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlank
	}
	if err != nil {
		return nil, fmt.Errorf("nvs read %s: %w", b.name, err)
	}
	return payload, nil
}

func (b *SQLBlock) WriteBlock(ctx context.Context, payload []byte) error {
	if len(payload) > Size {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO nvs_blocks (name, payload) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			payload = excluded.payload,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		b.name, payload,
	)
	if err != nil {
		return fmt.Errorf("nvs write %s: %w", b.name, err)
	}
	return nil
}

// MemBlock is a volatile block for tests and the sim profile.
type MemBlock struct {
	mu      sync.Mutex
	payload []byte

	// FailWrites makes every WriteBlock fail, emulating a worn flash cell.
	FailWrites bool
	writes     int
}

func (m *MemBlock) ReadBlock(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, ErrBlank
	}
	return append([]byte(nil), m.payload...), nil
}

func (m *MemBlock) WriteBlock(_ context.Context, payload []byte) error {
	if len(payload) > Size {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("nvs: write failed")
	}
	m.payload = append([]byte(nil), payload...)
	m.writes++
	return nil
}

// Writes reports how many writes succeeded.
func (m *MemBlock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
