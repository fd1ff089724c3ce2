package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// Directory maps subdomain slugs to institution ids.
type Directory interface {
	InstitutionBySlug(slug string) (uuid.UUID, bool)
}

// PGDirectory serves slug lookups from an in-memory snapshot of the
// institutions table. Lookups never touch the database; Refresh swaps the
// snapshot wholesale.
type PGDirectory struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	snapshot map[string]uuid.UUID
	loadedAt time.Time

	group singleflight.Group
}

// NewPGDirectory constructs a directory backed by PostgreSQL.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool, snapshot: map[string]uuid.UUID{}}
}

// InstitutionBySlug resolves a slug against the current snapshot.
func (d *PGDirectory) InstitutionBySlug(slug string) (uuid.UUID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.snapshot[slug]
	return id, ok
}

// Refresh reloads the slug snapshot. Concurrent callers share one load.
func (d *PGDirectory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (any, error) {
		rows, err := d.pool.Query(ctx, `SELECT id, slug FROM institutions WHERE status = 'active'`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		next := make(map[string]uuid.UUID)
		for rows.Next() {
			var id uuid.UUID
			var slug string
			if err := rows.Scan(&id, &slug); err != nil {
				return nil, err
			}
			next[slug] = id
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.snapshot = next
		d.loadedAt = time.Now().UTC()
		d.mu.Unlock()
		return nil, nil
	})
	return err
}

// LoadedAt reports when the snapshot was last refreshed.
func (d *PGDirectory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

// StaticDirectory is a fixed slug table, used in tests and local setups.
type StaticDirectory map[string]uuid.UUID

// InstitutionBySlug resolves a slug against the static table.
func (d StaticDirectory) InstitutionBySlug(slug string) (uuid.UUID, bool) {
	id, ok := d[slug]
	return id, ok
}

var _ Directory = (*PGDirectory)(nil)
var _ Directory = (StaticDirectory)(nil)
