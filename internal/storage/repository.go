package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"coinfolio/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRateRecordSQL = `INSERT INTO rate_records (
        pair_base,
        pair_quote,
        day,
        value
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (pair_base, pair_quote, day) DO NOTHING;`

	newestRateRecordSQL = `SELECT day, value
    FROM rate_records
    WHERE pair_base = $1
      AND pair_quote = $2
    ORDER BY day DESC
    LIMIT 1;`

	rateRecordForDaySQL = `SELECT value
    FROM rate_records
    WHERE pair_base = $1
      AND pair_quote = $2
      AND day = $3;`

	listRateRecordsBetweenSQL = `SELECT day, value
    FROM rate_records
    WHERE pair_base = $1
      AND pair_quote = $2
      AND day >= $3
      AND day < $4
    ORDER BY day;`

	listRecentRateRecordsSQL = `SELECT day, value
    FROM rate_records
    WHERE pair_base = $1
      AND pair_quote = $2
    ORDER BY day DESC
    LIMIT $3;`

	countRateRecordsSQL = `SELECT COUNT(*) FROM rate_records WHERE pair_base = $1 AND pair_quote = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RateRecordStore defines operations for historical rate persistence.
// InsertRateRecord reports inserted=false for a benign duplicate; the
// existence check lives inside the atomic insert, never as a separate
// query racing the write.
type RateRecordStore interface {
	InsertRateRecord(ctx context.Context, record domain.RateRecord) (bool, error)
	NewestRateRecord(ctx context.Context, pair domain.Pair) (domain.RateRecord, bool, error)
	RateRecordForDay(ctx context.Context, pair domain.Pair, day time.Time) (domain.RateRecord, bool, error)
	ListRateRecordsBetween(ctx context.Context, pair domain.Pair, from, to time.Time) ([]domain.RateRecord, error)
	ListRecentRateRecords(ctx context.Context, pair domain.Pair, limit int) ([]domain.RateRecord, error)
	CountRateRecords(ctx context.Context, pair domain.Pair) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store provides rate record access backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRateRecord persists one daily rate. Returns false when a record
// for the same (pair, day) already exists.
func (s *Store) InsertRateRecord(ctx context.Context, record domain.RateRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, insertRateRecordSQL,
		record.Pair.Base,
		record.Pair.Quote,
		domain.DayFloor(record.Day),
		record.Value.String(),
	)
	if execErr != nil {
		return false, fmt.Errorf("insert rate record: %w", execErr)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// NewestRateRecord returns the most recent persisted day for a pair.
func (s *Store) NewestRateRecord(ctx context.Context, pair domain.Pair) (domain.RateRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.RateRecord{}, false, err
	}

	var (
		day      time.Time
		valueStr string
	)
	scanErr := pool.QueryRow(ctx, newestRateRecordSQL, pair.Base, pair.Quote).Scan(&day, &valueStr)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.RateRecord{}, false, nil
	}
	if scanErr != nil {
		return domain.RateRecord{}, false, fmt.Errorf("newest rate record: %w", scanErr)
	}

	value, convErr := decimal.NewFromString(valueStr)
	if convErr != nil {
		return domain.RateRecord{}, false, fmt.Errorf("parse rate value: %w", convErr)
	}
	return domain.RateRecord{Pair: pair, Day: day.UTC(), Value: value}, true, nil
}

// RateRecordForDay returns the persisted record for one UTC day.
func (s *Store) RateRecordForDay(ctx context.Context, pair domain.Pair, day time.Time) (domain.RateRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.RateRecord{}, false, err
	}

	var valueStr string
	scanErr := pool.QueryRow(ctx, rateRecordForDaySQL, pair.Base, pair.Quote, domain.DayFloor(day)).Scan(&valueStr)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.RateRecord{}, false, nil
	}
	if scanErr != nil {
		return domain.RateRecord{}, false, fmt.Errorf("rate record for day: %w", scanErr)
	}

	value, convErr := decimal.NewFromString(valueStr)
	if convErr != nil {
		return domain.RateRecord{}, false, fmt.Errorf("parse rate value: %w", convErr)
	}
	return domain.RateRecord{Pair: pair, Day: domain.DayFloor(day), Value: value}, true, nil
}

// ListRateRecordsBetween lists records within a half-open day window.
func (s *Store) ListRateRecordsBetween(ctx context.Context, pair domain.Pair, from, to time.Time) ([]domain.RateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRateRecordsBetweenSQL, pair.Base, pair.Quote, domain.DayFloor(from), domain.DayFloor(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list rate records between: %w", queryErr)
	}
	defer rows.Close()

	return scanRateRecords(rows, pair)
}

// ListRecentRateRecords lists the newest records, most recent first.
func (s *Store) ListRecentRateRecords(ctx context.Context, pair domain.Pair, limit int) ([]domain.RateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRateRecordsSQL, pair.Base, pair.Quote, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rate records: %w", queryErr)
	}
	defer rows.Close()

	return scanRateRecords(rows, pair)
}

// CountRateRecords counts stored records for a pair.
func (s *Store) CountRateRecords(ctx context.Context, pair domain.Pair) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRateRecordsSQL, pair.Base, pair.Quote).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count rate records: %w", scanErr)
	}
	return count, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func scanRateRecords(rows pgx.Rows, pair domain.Pair) ([]domain.RateRecord, error) {
	records := make([]domain.RateRecord, 0)
	for rows.Next() {
		var (
			day      time.Time
			valueStr string
		)
		if err := rows.Scan(&day, &valueStr); err != nil {
			return nil, err
		}
		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse rate value: %w", convErr)
		}
		records = append(records, domain.RateRecord{Pair: pair, Day: day.UTC(), Value: value})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

var (
	_ RateRecordStore = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
