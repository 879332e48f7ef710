package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/geogrid"
)

// GridRecord is a registered grid layout. Counters are scoped to a grid so
// that changing the bounds or cell size never mixes incompatible cell ids.
type GridRecord struct {
	ID          string
	Bounds      geogrid.Bounds
	CellHeightM float64
	TotalCells  int
	CreatedAt   time.Time
}

// RegisterGrid returns the record of g, creating it on first use.
func (db *DB) RegisterGrid(ctx context.Context, g *geogrid.Grid) (GridRecord, error) {
	b := g.Bounds()
	rec := GridRecord{Bounds: b, CellHeightM: g.CellHeightMeters(), TotalCells: g.TotalCells()}

	var created int64
	err := db.QueryRowContext(ctx, `
		SELECT grid_id, created_unix_nanos FROM grids
		WHERE lon_min = ? AND lat_min = ? AND lon_max = ? AND lat_max = ? AND cell_height_m = ?`,
		b.LonMin, b.LatMin, b.LonMax, b.LatMax, rec.CellHeightM,
	).Scan(&rec.ID, &created)
	switch {
	case err == nil:
		rec.CreatedAt = time.Unix(0, created).UTC()
		return rec, nil
	case !errors.Is(err, sql.ErrNoRows):
		return GridRecord{}, fmt.Errorf("lookup grid: %w", err)
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO grids (grid_id, lon_min, lat_min, lon_max, lat_max, cell_height_m, total_cells, created_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, b.LonMin, b.LatMin, b.LonMax, b.LatMax, rec.CellHeightM, rec.TotalCells, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return GridRecord{}, fmt.Errorf("insert grid: %w", err)
	}
	return rec, nil
}

// Grids lists every registered grid, oldest first.
func (db *DB) Grids(ctx context.Context) ([]GridRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT grid_id, lon_min, lat_min, lon_max, lat_max, cell_height_m, total_cells, created_unix_nanos
		FROM grids ORDER BY created_unix_nanos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GridRecord
	for rows.Next() {
		var r GridRecord
		var created int64
		if err := rows.Scan(&r.ID, &r.Bounds.LonMin, &r.Bounds.LatMin, &r.Bounds.LonMax, &r.Bounds.LatMax,
			&r.CellHeightM, &r.TotalCells, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CoverageStore is a coverage.Store persisting counters of one grid.
type CoverageStore struct {
	db     *DB
	gridID string
}

var _ coverage.Store = (*CoverageStore)(nil)

// NewCoverageStore registers g and returns a store scoped to it.
func NewCoverageStore(ctx context.Context, db *DB, g *geogrid.Grid) (*CoverageStore, error) {
	rec, err := db.RegisterGrid(ctx, g)
	if err != nil {
		return nil, err
	}
	return &CoverageStore{db: db, gridID: rec.ID}, nil
}

// GridID returns the id of the grid the store writes to.
func (s *CoverageStore) GridID() string { return s.gridID }

func (s *CoverageStore) Add(ctx context.Context, source string, cellID int, received, missing int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coverage_cells (grid_id, source, cell_id, received, missing, updated_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (grid_id, source, cell_id) DO UPDATE SET
			received = received + excluded.received,
			missing = missing + excluded.missing,
			updated_unix_nanos = excluded.updated_unix_nanos`,
		s.gridID, source, cellID, received, missing, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record cell %s/%d: %w", source, cellID, err)
	}
	return nil
}

func (s *CoverageStore) Cells(ctx context.Context, source string) (map[int]coverage.CellStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cell_id, received, missing FROM coverage_cells
		WHERE grid_id = ? AND source = ?`, s.gridID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]coverage.CellStats)
	for rows.Next() {
		var id int
		var c coverage.CellStats
		if err := rows.Scan(&id, &c.Received, &c.Missing); err != nil {
			return nil, err
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, coverage.ErrUnknownSource
	}
	return out, nil
}

func (s *CoverageStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT source FROM coverage_cells WHERE grid_id = ? ORDER BY source`, s.gridID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *CoverageStore) Close() error { return s.db.Close() }
