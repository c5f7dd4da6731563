package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"labreport-bot/api/internal/prefs"
)

// PrefRepo implements prefs.Store.
type PrefRepo struct{ DB *sql.DB }

func NewPrefRepo(db *sql.DB) *PrefRepo { return &PrefRepo{DB: db} }

func (r *PrefRepo) DisplayMode(ctx context.Context, owner string) (prefs.Mode, error) {
	var s string
	err := r.DB.QueryRowContext(ctx, `select display_mode from preferences where owner = $1`, owner).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs.Default, nil
	}
	if err != nil {
		return "", err
	}
	m, err := prefs.ParseMode(s)
	if err != nil {
		// unreadable value: fall back to default
		return prefs.Default, nil
	}
	return m, nil
}

func (r *PrefRepo) SetDisplayMode(ctx context.Context, owner string, mode prefs.Mode) error {
	const q = `
insert into preferences (owner, display_mode, updated_at)
values ($1,$2,$3)
on conflict (owner) do update
set display_mode = excluded.display_mode,
    updated_at = excluded.updated_at`
	_, err := r.DB.ExecContext(ctx, q, owner, string(mode), time.Now().UTC())
	return err
}

// MemoryPrefs is a prefs.Store for runs without a database.
type MemoryPrefs struct {
	mu    sync.Mutex
	modes map[string]prefs.Mode
}

func NewMemoryPrefs() *MemoryPrefs {
	return &MemoryPrefs{modes: map[string]prefs.Mode{}}
}

func (m *MemoryPrefs) DisplayMode(_ context.Context, owner string) (prefs.Mode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.modes[owner]; ok {
		return v, nil
	}
	return prefs.Default, nil
}

func (m *MemoryPrefs) SetDisplayMode(_ context.Context, owner string, mode prefs.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[owner] = mode
	return nil
}
