package anpr

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cameras (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	location TEXT,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id INTEGER NOT NULL,
	track_id INTEGER NOT NULL,
	vehicle_type TEXT NOT NULL,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	confidence REAL NOT NULL,
	color TEXT,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS plates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera_id INTEGER NOT NULL,
	track_id INTEGER NOT NULL,
	plate_text TEXT NOT NULL,
	confidence REAL NOT NULL,
	num_samples INTEGER NOT NULL,
	resolved_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	camera_id INTEGER NOT NULL,
	track_id INTEGER NOT NULL,
	vehicle_type TEXT NOT NULL,
	plate_text TEXT,
	has_plate INTEGER NOT NULL,
	plate_confidence REAL,
	timestamp INTEGER NOT NULL,
	confidence REAL NOT NULL,
	entry_time INTEGER,
	exit_time INTEGER,
	duration_ms INTEGER,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_plate_text ON events(plate_text);
CREATE INDEX IF NOT EXISTS idx_events_camera_id ON events(camera_id);
`

const (
	batchSize     = 10
	batchInterval = 500 * time.Millisecond
	queueCapacity = 1000
)

// CameraRecord is an upsert-by-id row describing one configured camera.
type CameraRecord struct {
	ID        int
	Name      string
	Source    string
	Location  string
	Status    string
	CreatedAt time.Time
}

// TrackRecord is a point-in-time snapshot of one track, inserted as a new
// row whenever the pipeline has reason to persist its current state.
type TrackRecord struct {
	CameraID    int
	TrackID     int
	VehicleType VehicleType
	FirstSeen   time.Time
	LastSeen    time.Time
	Confidence  float64
	Color       string
	Metadata    map[string]any
}

// PlateRecord captures a track's plate the moment OCR fusion locks it,
// giving the read API provenance for a finalized plate without re-deriving
// it from the track's raw reading list.
type PlateRecord struct {
	CameraID   int
	TrackID    int
	PlateText  string
	Confidence float64
	NumSamples int
	ResolvedAt time.Time
}

// writeOp distinguishes the record kinds carried on the writer's single
// queue; every kind is committed by the same background worker in the same
// batch-commit transaction.
type writeOp int

const (
	opInsertEvent writeOp = iota
	opUpsertCamera
	opUpsertTrack
	opInsertPlate
)

type writeRecord struct {
	op     writeOp
	event  *DurableEvent
	camera *CameraRecord
	track  *TrackRecord
	plate  *PlateRecord
}

// Writer is the system's asynchronous, batched durable-write path: callers
// enqueue records without blocking, a single background worker commits them
// in batches of up to batchSize records or every batchInterval, whichever
// comes first.
type Writer struct {
	db *sql.DB

	queue chan *writeRecord
	done  chan struct{}
	wg    sync.WaitGroup

	enqueued  atomic.Int64
	dropped   atomic.Int64
	committed atomic.Int64
	failed    atomic.Int64
}

// NewWriter opens (or creates) the sqlite database at path, applies the
// schema, and starts the background batch-commit worker.
func NewWriter(path string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	w := &Writer{
		db:    db,
		queue: make(chan *writeRecord, queueCapacity),
		done:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Enqueue submits an entry/exit event for durable writing without
// blocking. It returns false, incrementing the drop counter, if the queue
// is full.
func (w *Writer) Enqueue(ev *DurableEvent) bool {
	return w.enqueue(&writeRecord{op: opInsertEvent, event: ev})
}

// EnqueueCamera submits an upsert-by-id camera row without blocking.
func (w *Writer) EnqueueCamera(cam *CameraRecord) bool {
	return w.enqueue(&writeRecord{op: opUpsertCamera, camera: cam})
}

// EnqueueTrack submits a track snapshot row without blocking.
func (w *Writer) EnqueueTrack(tr *TrackRecord) bool {
	return w.enqueue(&writeRecord{op: opUpsertTrack, track: tr})
}

// EnqueuePlate submits a resolved-plate row without blocking. Callers
// should enqueue exactly once per lock, at the moment OCR fusion locks a
// track's plate.
func (w *Writer) EnqueuePlate(p *PlateRecord) bool {
	return w.enqueue(&writeRecord{op: opInsertPlate, plate: p})
}

func (w *Writer) enqueue(rec *writeRecord) bool {
	select {
	case w.queue <- rec:
		w.enqueued.Add(1)
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	batch := make([]*writeRecord, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.commitBatch(batch); err != nil {
			w.failed.Add(int64(len(batch)))
		} else {
			w.committed.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// drain whatever remains in the queue before shutting down
			for {
				select {
				case rec := <-w.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) commitBatch(batch []*writeRecord) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	eventStmt, err := tx.Prepare(`INSERT INTO events
		(event_type, camera_id, track_id, vehicle_type, plate_text, has_plate,
		 plate_confidence, timestamp, confidence, entry_time, exit_time, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer eventStmt.Close()

	cameraStmt, err := tx.Prepare(`INSERT INTO cameras (id, name, source, location, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, source=excluded.source, location=excluded.location, status=excluded.status`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare camera upsert: %w", err)
	}
	defer cameraStmt.Close()

	trackStmt, err := tx.Prepare(`INSERT INTO tracks
		(camera_id, track_id, vehicle_type, first_seen, last_seen, confidence, color, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare track insert: %w", err)
	}
	defer trackStmt.Close()

	plateStmt, err := tx.Prepare(`INSERT INTO plates
		(camera_id, track_id, plate_text, confidence, num_samples, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare plate insert: %w", err)
	}
	defer plateStmt.Close()

	for _, rec := range batch {
		var execErr error
		switch rec.op {
		case opInsertEvent:
			execErr = execEvent(eventStmt, rec.event)
		case opUpsertCamera:
			execErr = execCamera(cameraStmt, rec.camera)
		case opUpsertTrack:
			execErr = execTrack(trackStmt, rec.track)
		case opInsertPlate:
			execErr = execPlate(plateStmt, rec.plate)
		}
		if execErr != nil {
			tx.Rollback()
			return execErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func execEvent(stmt *sql.Stmt, ev *DurableEvent) error {
	var exitTime, durationMs sql.NullInt64
	if ev.HasExit {
		exitTime = sql.NullInt64{Int64: ev.ExitTime.UnixNano(), Valid: true}
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	var plateText sql.NullString
	var plateConf sql.NullFloat64
	if ev.HasPlate {
		plateText = sql.NullString{String: ev.PlateText, Valid: true}
		plateConf = sql.NullFloat64{Float64: ev.PlateConfidence, Valid: true}
	}
	metadata, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	if _, err := stmt.Exec(
		string(ev.Type), ev.CameraID, ev.TrackID, string(ev.VehicleType),
		plateText, ev.HasPlate, plateConf, ev.Timestamp.UnixNano(), ev.Confidence,
		ev.EntryTime.UnixNano(), exitTime, durationMs, metadata,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func execCamera(stmt *sql.Stmt, cam *CameraRecord) error {
	if _, err := stmt.Exec(cam.ID, cam.Name, cam.Source, cam.Location, cam.Status, cam.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert camera: %w", err)
	}
	return nil
}

func execTrack(stmt *sql.Stmt, tr *TrackRecord) error {
	metadata, err := marshalMetadata(tr.Metadata)
	if err != nil {
		return fmt.Errorf("marshal track metadata: %w", err)
	}
	if _, err := stmt.Exec(
		tr.CameraID, tr.TrackID, string(tr.VehicleType),
		tr.FirstSeen.UnixNano(), tr.LastSeen.UnixNano(), tr.Confidence, tr.Color, metadata,
	); err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	return nil
}

func execPlate(stmt *sql.Stmt, p *PlateRecord) error {
	if _, err := stmt.Exec(p.CameraID, p.TrackID, p.PlateText, p.Confidence, p.NumSamples, p.ResolvedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert plate: %w", err)
	}
	return nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// WriterStats reports the writer's lifetime counters.
type WriterStats struct {
	Enqueued  int64
	Dropped   int64
	Committed int64
	Failed    int64
}

// Stats returns a snapshot of the writer's counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Enqueued:  w.enqueued.Load(),
		Dropped:   w.dropped.Load(),
		Committed: w.committed.Load(),
		Failed:    w.failed.Load(),
	}
}

// RecentEvents returns up to limit most recent events, newest first.
func (w *Writer) RecentEvents(ctx context.Context, limit int) ([]DurableEvent, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT event_type, camera_id, track_id, vehicle_type,
		plate_text, has_plate, plate_confidence, timestamp, confidence, entry_time, exit_time, duration_ms, metadata
		FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsByPlate returns every stored event for a given plate text, newest first.
func (w *Writer) EventsByPlate(ctx context.Context, plate string) ([]DurableEvent, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT event_type, camera_id, track_id, vehicle_type,
		plate_text, has_plate, plate_confidence, timestamp, confidence, entry_time, exit_time, duration_ms, metadata
		FROM events WHERE plate_text = ? ORDER BY timestamp DESC`, plate)
	if err != nil {
		return nil, fmt.Errorf("querying events by plate: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]DurableEvent, error) {
	var out []DurableEvent
	for rows.Next() {
		var ev DurableEvent
		var eventType, vehicleType string
		var plateText sql.NullString
		var plateConf sql.NullFloat64
		var ts, entryTime int64
		var exitTime, durationMs sql.NullInt64
		var metadata sql.NullString

		if err := rows.Scan(&eventType, &ev.CameraID, &ev.TrackID, &vehicleType,
			&plateText, &ev.HasPlate, &plateConf, &ts, &ev.Confidence, &entryTime, &exitTime, &durationMs, &metadata); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		ev.Type = EventType(eventType)
		ev.VehicleType = VehicleType(vehicleType)
		ev.Timestamp = time.Unix(0, ts)
		ev.EntryTime = time.Unix(0, entryTime)
		if plateText.Valid {
			ev.PlateText = plateText.String
		}
		if plateConf.Valid {
			ev.PlateConfidence = plateConf.Float64
		}
		if exitTime.Valid {
			ev.ExitTime = time.Unix(0, exitTime.Int64)
			ev.HasExit = true
		}
		if durationMs.Valid {
			ev.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		}
		if metadata.Valid {
			var m map[string]any
			if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
				ev.Metadata = m
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close drains the queue, commits whatever remains, and closes the database.
// Calls after the first return nil without doing anything.
func (w *Writer) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	w.wg.Wait()
	return w.db.Close()
}
