// Package database is the SQLite-backed relational cache of cars, slot
// statistics and links. It is a mirror refreshed from the remote store and
// can be deleted at any time.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"carphoto/internal/carphoto"
	"carphoto/internal/database/migrations"
	"carphoto/internal/diskpath"
	"carphoto/internal/index"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCache implements carphoto.Cache on SQLite.
type SQLiteCache struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteCache opens the cache at path, or an in-memory cache for
// ":memory:", and migrates it to the latest schema.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db, path: path, now: time.Now}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring cache database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

func unixOrNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (c *SQLiteCache) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SyncRegion replaces the cached live cars of region with cars. Cars that
// are no longer listed are dropped together with their slots and links;
// archived rows are kept.
func (c *SQLiteCache) SyncRegion(ctx context.Context, region string, cars []carphoto.Car) error {
	synced := c.now().UnixNano()
	return c.inTx(ctx, func(tx *sql.Tx) error {
		for _, car := range cars {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cars (region, vin, make, model, folder, root, created_at, created_by, synced_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (region, vin) DO UPDATE SET
					make = excluded.make,
					model = excluded.model,
					folder = excluded.folder,
					root = excluded.root,
					created_at = excluded.created_at,
					created_by = excluded.created_by,
					deleted = 0,
					deleted_at = NULL,
					deleted_by = '',
					synced_at = excluded.synced_at`,
				region, car.VIN, car.Make, car.Model, car.Folder, car.Root,
				car.CreatedAt.UnixNano(), car.CreatedBy, synced)
			if err != nil {
				return fmt.Errorf("upserting car %s: %w", car.VIN, err)
			}
		}

		listed := make(map[string]bool, len(cars))
		for _, car := range cars {
			listed[car.VIN] = true
		}
		rows, err := tx.QueryContext(ctx, `SELECT vin FROM cars WHERE region = ? AND deleted = 0`, region)
		if err != nil {
			return fmt.Errorf("finding unlisted cars: %w", err)
		}
		var gone []string
		for rows.Next() {
			var vin string
			if err := rows.Scan(&vin); err != nil {
				rows.Close()
				return fmt.Errorf("scanning cached car: %w", err)
			}
			if !listed[vin] {
				gone = append(gone, vin)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("finding unlisted cars: %w", err)
		}

		for _, vin := range gone {
			for _, table := range []string{"slots", "links", "cars"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE region = ? AND vin = ?", region, vin); err != nil {
					return fmt.Errorf("removing car %s from %s: %w", vin, table, err)
				}
			}
		}
		return nil
	})
}

// RegionCars returns the cached live cars of region ordered by folder.
func (c *SQLiteCache) RegionCars(ctx context.Context, region string) ([]carphoto.Car, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT vin, make, model, folder, root, created_at, created_by
		FROM cars WHERE region = ? AND deleted = 0 ORDER BY folder`, region)
	if err != nil {
		return nil, fmt.Errorf("listing cached cars: %w", err)
	}
	defer rows.Close()

	var cars []carphoto.Car
	for rows.Next() {
		car := carphoto.Car{Region: region}
		var created int64
		if err := rows.Scan(&car.VIN, &car.Make, &car.Model, &car.Folder, &car.Root, &created, &car.CreatedBy); err != nil {
			return nil, fmt.Errorf("scanning cached car: %w", err)
		}
		car.CreatedAt = fromUnix(created)
		cars = append(cars, car)
	}
	return cars, rows.Err()
}

// SyncSlots upserts slot statistics.
func (c *SQLiteCache) SyncSlots(ctx context.Context, region, vin string, slots []carphoto.SlotStats) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range slots {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO slots (region, vin, slot_type, slot_index, path, count, total_size, cover, used, public_url, updated_at, source)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (region, vin, slot_type, slot_index) DO UPDATE SET
					path = excluded.path,
					count = excluded.count,
					total_size = excluded.total_size,
					cover = excluded.cover,
					used = excluded.used,
					public_url = excluded.public_url,
					updated_at = excluded.updated_at,
					source = excluded.source`,
				region, vin, string(st.Type), st.Index, st.Path, st.Count, st.TotalSize, st.Cover,
				st.Used, st.PublicURL, st.UpdatedAt.UnixNano(), st.Source)
			if err != nil {
				return fmt.Errorf("upserting slot %s %d of %s: %w", st.Type, st.Index, vin, err)
			}
		}
		return nil
	})
}

// CarSlots returns the cached slot statistics of a car in catalog order.
func (c *SQLiteCache) CarSlots(ctx context.Context, region, vin string) ([]carphoto.SlotStats, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT slot_type, slot_index, path, count, total_size, cover, used, public_url, updated_at, source
		FROM slots WHERE region = ? AND vin = ?`, region, vin)
	if err != nil {
		return nil, fmt.Errorf("listing cached slots: %w", err)
	}
	defer rows.Close()

	var out []carphoto.SlotStats
	for rows.Next() {
		var st carphoto.SlotStats
		var typ string
		var updated int64
		if err := rows.Scan(&typ, &st.Index, &st.Path, &st.Count, &st.TotalSize, &st.Cover,
			&st.Used, &st.PublicURL, &updated, &st.Source); err != nil {
			return nil, fmt.Errorf("scanning cached slot: %w", err)
		}
		st.Type = diskpath.SlotType(typ)
		st.UpdatedAt = fromUnix(updated)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCatalog(out)
	return out, nil
}

// sortCatalog orders stats primary, secondary, filler, then by index.
func sortCatalog(stats []carphoto.SlotStats) {
	rank := make(map[diskpath.SlotType]int, len(diskpath.SlotTypes))
	for i, t := range diskpath.SlotTypes {
		rank[t] = i
	}
	for i := 1; i < len(stats); i++ {
		for j := i; j > 0; j-- {
			a, b := stats[j-1], stats[j]
			if rank[a.Type] < rank[b.Type] || (a.Type == b.Type && a.Index <= b.Index) {
				break
			}
			stats[j-1], stats[j] = b, a
		}
	}
}

// SyncLinks replaces the cached links of a car.
func (c *SQLiteCache) SyncLinks(ctx context.Context, region, vin string, links []index.Link) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE region = ? AND vin = ?`, region, vin); err != nil {
			return fmt.Errorf("clearing links of %s: %w", vin, err)
		}
		for i, l := range links {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO links (region, vin, id, label, url, created_at, created_by, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				region, vin, l.ID, l.Label, l.URL, l.CreatedAt.UnixNano(), l.CreatedBy, i)
			if err != nil {
				return fmt.Errorf("inserting link %s: %w", l.ID, err)
			}
		}
		return nil
	})
}

// CarLinks returns the cached links of a car in list order.
func (c *SQLiteCache) CarLinks(ctx context.Context, region, vin string) ([]index.Link, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, label, url, created_at, created_by
		FROM links WHERE region = ? AND vin = ? ORDER BY position`, region, vin)
	if err != nil {
		return nil, fmt.Errorf("listing cached links: %w", err)
	}
	defer rows.Close()

	var out []index.Link
	for rows.Next() {
		var l index.Link
		var created int64
		if err := rows.Scan(&l.ID, &l.Label, &l.URL, &created, &l.CreatedBy); err != nil {
			return nil, fmt.Errorf("scanning cached link: %w", err)
		}
		l.CreatedAt = fromUnix(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkDeleted flags a cached car as archived. An uncached car is ignored.
func (c *SQLiteCache) MarkDeleted(ctx context.Context, region, vin string, at time.Time, by string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE cars SET deleted = 1, deleted_at = ?, deleted_by = ? WHERE region = ? AND vin = ?`,
		unixOrNull(at), by, region, vin)
	if err != nil {
		return fmt.Errorf("marking %s deleted: %w", vin, err)
	}
	return nil
}

// Path returns the database file path, or ":memory:".
func (c *SQLiteCache) Path() string {
	return c.path
}

// CheckMigrations verifies the schema is up to date.
func (c *SQLiteCache) CheckMigrations() error {
	return migrations.Status(c.db)
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

var _ carphoto.Cache = (*SQLiteCache)(nil)
