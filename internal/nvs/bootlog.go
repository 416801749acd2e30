package nvs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BootEntry is why the node last went down.
type BootEntry struct {
	Reason   string
	Uptime   time.Duration
	LoggedAt string
}

// BootLog records reboot reasons so the next boot can report them.
type BootLog struct {
	db *sql.DB
}

func NewBootLog(db *sql.DB) *BootLog {
	return &BootLog{db: db}
}

func (l *BootLog) Record(ctx context.Context, reason string, uptime time.Duration) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO boot_log (reason, uptime_ms) VALUES (?, ?)`,
		reason, uptime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("boot log insert: %w", err)
	}
	return nil
}

// Last returns the most recent entry; ok is false on a first boot.
func (l *BootLog) Last(ctx context.Context) (entry BootEntry, ok bool, err error) {
	var ms int64
	err = l.db.QueryRowContext(ctx,
		`SELECT reason, uptime_ms, logged_at FROM boot_log ORDER BY id DESC LIMIT 1`,
	).Scan(&entry.Reason, &ms, &entry.LoggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BootEntry{}, false, nil
	}
	if err != nil {
		return BootEntry{}, false, fmt.Errorf("boot log query: %w", err)
	}
	entry.Uptime = time.Duration(ms) * time.Millisecond
	return entry, true, nil
}
