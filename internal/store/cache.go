package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
)

// Backend is the slice of the API client the cache refreshes from.
type Backend interface {
	MyMemoras(ctx context.Context) ([]memora.Memora, error)
	ListMemoras(ctx context.Context, filter api.ListFilter) ([]memora.Memora, error)
}

// Cache is the local persona snapshot. Refresh replaces the whole snapshot
// atomically; the readers serve whatever the last successful Refresh wrote,
// so a backend outage degrades to stale data instead of an empty home view.
type Cache struct {
	db      *sql.DB
	backend Backend
}

// NewCache creates a Cache over an initialized database.
func NewCache(db *sql.DB, backend Backend) *Cache {
	return &Cache{db: db, backend: backend}
}

type row struct {
	m           memora.Memora
	owned       bool
	conversable bool
}

// Refresh fetches the viewer's personas and the public conversable list and
// replaces the snapshot in one transaction. On any fetch or write error the
// previous snapshot stays intact.
func (c *Cache) Refresh(ctx context.Context) error {
	owned, err := c.backend.MyMemoras(ctx)
	if err != nil {
		return err
	}

	hasChat := true
	conversable, err := c.backend.ListMemoras(ctx, api.ListFilter{
		PrivacyStatus: string(memora.PrivacyPublic),
		HasChat:       &hasChat,
	})
	if err != nil {
		return err
	}

	rows := map[int]*row{}
	for _, m := range owned {
		rows[m.ID] = &row{m: m, owned: true}
	}
	for _, m := range conversable {
		if r, ok := rows[m.ID]; ok {
			r.conversable = true
			continue
		}
		rows[m.ID] = &row{m: m, conversable: true}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM personas"); err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()
	const insert = `
		INSERT INTO personas (
			id, full_name, language, birthday, privacy_status, user_id,
			status, status_message, profile_picture_base64,
			owned, conversable, refreshed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range rows {
		_, err := tx.ExecContext(ctx, insert,
			r.m.ID, r.m.FullName, r.m.Language, r.m.Birthday,
			string(r.m.PrivacyStatus), r.m.UserID,
			r.m.Status, r.m.StatusMessage, r.m.ProfilePictureBase64,
			boolInt(r.owned), boolInt(r.conversable), now,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Owned returns the snapshot of personas the viewer owns, ordered by id.
func (c *Cache) Owned(ctx context.Context) ([]memora.Memora, error) {
	return c.list(ctx, "owned = 1")
}

// Conversable returns the snapshot of public personas open for chat,
// ordered by id.
func (c *Cache) Conversable(ctx context.Context) ([]memora.Memora, error) {
	return c.list(ctx, "conversable = 1")
}

// Get returns one cached persona.
func (c *Cache) Get(ctx context.Context, id int) (*memora.Memora, error) {
	rows, err := c.list(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFound("memora")
	}
	return &rows[0], nil
}

// HasProcessing reports whether any owned persona in the snapshot is still
// processing. The status poller keys off this between refreshes.
func (c *Cache) HasProcessing(ctx context.Context) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM personas WHERE owned = 1 AND status = ?",
		string(memora.StatusProcessingSocial),
	).Scan(&n)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

func (c *Cache) list(ctx context.Context, where string, args ...any) ([]memora.Memora, error) {
	query := `
		SELECT id, full_name, language, birthday, privacy_status, user_id,
			status, status_message, profile_picture_base64
		FROM personas WHERE ` + where

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []memora.Memora
	for rows.Next() {
		var m memora.Memora
		var privacy string
		err := rows.Scan(
			&m.ID, &m.FullName, &m.Language, &m.Birthday, &privacy,
			&m.UserID, &m.Status, &m.StatusMessage, &m.ProfilePictureBase64,
		)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		m.PrivacyStatus = memora.PrivacyStatus(privacy)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
