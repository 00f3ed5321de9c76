//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/readings.go -package=mocks . ReadingsRepository

// Package database persists fetched interval readings in Postgres.
//
// Readings are keyed by (mprn, read_at). The portal returns up to a year of
// overlapping history on every download, so inserts ignore rows that are
// already stored.
//
// Example usage:
//
//	repo, err := NewPostgresRepo("host=localhost user=esbmeter dbname=esbmeter sslmode=disable")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
//	err = repo.BatchInsertReadings(ctx, "10012345678", readings)
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tejusbharadwaj/esbmeter/internal/models"
)

// ReadingsRepository stores and queries interval readings per meter.
type ReadingsRepository interface {
	// BatchInsertReadings stores readings for mprn in a single transaction.
	// Readings already stored for the same interval are left untouched.
	BatchInsertReadings(ctx context.Context, mprn string, readings []models.Reading) error

	// Query returns the readings of mprn with start <= time < end, oldest first.
	Query(ctx context.Context, mprn string, start, end time.Time) ([]models.Reading, error)

	// Close releases any resources held by the repository.
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS readings (
    mprn         TEXT             NOT NULL,
    read_at      TIMESTAMP        NOT NULL,
    kwh          DOUBLE PRECISION NOT NULL,
    meter_serial TEXT             NOT NULL DEFAULT '',
    read_type    TEXT             NOT NULL DEFAULT '',
    PRIMARY KEY (mprn, read_at)
)`

// PostgresRepo implements ReadingsRepository on lib/pq.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo opens and pings the database, then creates the readings
// table if it does not exist.
func NewPostgresRepo(connStr string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresRepo{db: db}, nil
}

// SetMaxOpenConns bounds the connection pool.
func (s *PostgresRepo) SetMaxOpenConns(n int) {
	s.db.SetMaxOpenConns(n)
}

// BatchInsertReadings performs bulk insertion inside one transaction.
//
// Read times are wall-clock times of the portal's zone and are stored
// without a zone, as the portal reports them.
func (s *PostgresRepo) BatchInsertReadings(ctx context.Context, mprn string, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // rollback if not committed

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO readings (mprn, read_at, kwh, meter_serial, read_type)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (mprn, read_at) DO NOTHING
    `)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, mprn, asWall(r.Time), r.KWh, r.MeterSerial, r.ReadType); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Query returns stored readings. start and end are compared as wall-clock
// times; the returned readings carry the zone of start.
func (s *PostgresRepo) Query(ctx context.Context, mprn string, start, end time.Time) ([]models.Reading, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("start time must be before end time")
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT read_at, kwh, meter_serial, read_type
        FROM readings
        WHERE mprn = $1 AND read_at >= $2 AND read_at < $3
        ORDER BY read_at
    `, mprn, asWall(start), asWall(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loc := start.Location()
	var results []models.Reading
	for rows.Next() {
		var (
			r    models.Reading
			wall time.Time
		)
		if err := rows.Scan(&wall, &r.KWh, &r.MeterSerial, &r.ReadType); err != nil {
			return nil, err
		}
		r.MPRN = mprn
		r.Time = time.Date(wall.Year(), wall.Month(), wall.Day(),
			wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close releases all database resources.
func (s *PostgresRepo) Close() error {
	return s.db.Close()
}

func asWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// Compile-time interface implementation check
var _ ReadingsRepository = (*PostgresRepo)(nil)
