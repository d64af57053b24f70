package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is an append-only SQLite store for telemetry records. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db    *sql.DB
	owned bool
}

// NewStore opens (creating if needed) the record database at dbPath.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewStoreWithDB creates a store on an already open database. The
// caller keeps ownership of db.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate telemetry schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS telemetry_records (
		id               TEXT PRIMARY KEY,
		sensor_id        TEXT NOT NULL,
		topic            TEXT NOT NULL,
		received_at      INTEGER NOT NULL,
		valid            INTEGER NOT NULL,
		has_new_reading  INTEGER NOT NULL,
		sampled_at       INTEGER NOT NULL,
		published_at     INTEGER NOT NULL,
		age_readings     INTEGER NOT NULL,
		temperature_c    REAL,
		temperature_f    REAL,
		humidity_pct     REAL,
		heat_index_c     REAL,
		heat_index_f     REAL,
		error            TEXT,
		raw              BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_telemetry_sensor_received
		ON telemetry_records(sensor_id, received_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert appends a record. An empty ID is replaced with a UUIDv7 and a
// zero ReceivedAt with the current time; the stored values are written
// back into rec.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO telemetry_records
			(id, sensor_id, topic, received_at, valid, has_new_reading,
			 sampled_at, published_at, age_readings,
			 temperature_c, temperature_f, humidity_pct, heat_index_c, heat_index_f,
			 error, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SensorID, rec.Topic, rec.ReceivedAt.UnixMilli(),
		rec.Valid, rec.HasNewReading,
		int64(rec.SampledAt), int64(rec.PublishedAt), int64(rec.AgeReadings),
		nullFloat(rec.TemperatureC), nullFloat(rec.TemperatureF), nullFloat(rec.HumidityPct),
		nullFloat(rec.HeatIndexC), nullFloat(rec.HeatIndexF),
		nullString(rec.Error), rec.Raw,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry record: %w", err)
	}
	return nil
}

// Records returns the records for sensorID in arrival order. An empty
// sensorID returns every record.
func (s *Store) Records(ctx context.Context, sensorID string) ([]Record, error) {
	query := `SELECT id, sensor_id, topic, received_at, valid, has_new_reading,
			sampled_at, published_at, age_readings,
			temperature_c, temperature_f, humidity_pct, heat_index_c, heat_index_f,
			error, raw
		FROM telemetry_records`
	var args []any
	if sensorID != "" {
		query += ` WHERE sensor_id = ?`
		args = append(args, sensorID)
	}
	query += ` ORDER BY received_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query telemetry records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                   Record
			receivedAt            int64
			sampled, pub, age     int64
			tc, tf, hum, hic, hif sql.NullFloat64
			errText               sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SensorID, &rec.Topic, &receivedAt,
			&rec.Valid, &rec.HasNewReading, &sampled, &pub, &age,
			&tc, &tf, &hum, &hic, &hif, &errText, &rec.Raw); err != nil {
			return nil, fmt.Errorf("scan telemetry record: %w", err)
		}
		rec.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		rec.SampledAt = uint64(sampled)
		rec.PublishedAt = uint64(pub)
		rec.AgeReadings = uint64(age)
		rec.TemperatureC = floatPtr(tc)
		rec.TemperatureF = floatPtr(tf)
		rec.HumidityPct = floatPtr(hum)
		rec.HeatIndexC = floatPtr(hic)
		rec.HeatIndexF = floatPtr(hif)
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SensorIDs returns every sensor with at least one record, sorted.
func (s *Store) SensorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT sensor_id FROM telemetry_records ORDER BY sensor_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sensor ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sensor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
