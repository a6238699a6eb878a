// Package catalog lists the lectures a learner is enrolled in.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/chess-academy/internal/progress"
)

// Postgres reads enrollments from the academy database.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Items returns the enrolled lectures in course order. A lecture without a
// known length has a nil duration.
func (c *Postgres) Items(ctx context.Context, subjectID string) ([]progress.CatalogItem, error) {
	uid, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, fmt.Errorf("catalog: subject %q: %w", subjectID, err)
	}
	rows, err := c.db.Query(ctx, `
SELECT l.id, l.duration_seconds
FROM enrollments e
JOIN lectures l ON l.course_id = e.course_id
WHERE e.user_id = $1
ORDER BY e.enrolled_at, l.course_id, l.position`, uid)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	var out []progress.CatalogItem
	seen := map[string]bool{}
	for rows.Next() {
		var it progress.CatalogItem
		var dur *float64
		if err := rows.Scan(&it.ItemID, &dur); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		if seen[it.ItemID] {
			continue
		}
		seen[it.ItemID] = true
		if dur != nil {
			it.DurationSeconds = progress.Seconds(*dur)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Static serves the same lecture list to every learner.
type Static struct {
	items []progress.CatalogItem
}

func NewStatic(items []progress.CatalogItem) *Static {
	return &Static{items: items}
}

// LoadFile reads a JSON array of catalog items.
func LoadFile(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []progress.CatalogItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return NewStatic(items), nil
}

func (c *Static) Items(context.Context, string) ([]progress.CatalogItem, error) {
	out := make([]progress.CatalogItem, len(c.items))
	copy(out, c.items)
	return out, nil
}
