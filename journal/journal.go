// Package journal records the lifecycle of desktop launches in a sqlite
// database: when the server bound, which port was handed off, when the GUI
// started and exited, and how shutdown went.
package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// EventType represents the type of journal event
type EventType string

const (
	EventLaunchStarted     EventType = "launch_started"
	EventServerBound       EventType = "server_bound"
	EventHandoffPublished  EventType = "handoff_published"
	EventGUISpawned        EventType = "gui_spawned"
	EventGUIExited         EventType = "gui_exited"
	EventShutdownCompleted EventType = "shutdown_completed"
	EventShutdownFailed    EventType = "shutdown_failed"
	EventLaunchFailed      EventType = "launch_failed"
)

// Event represents a journal entry in the database
type Event struct {
	ID        string `db:"id"`
	LaunchID  string `db:"launch_id"`
	EventType string `db:"event_type"`
	Timestamp int64  `db:"timestamp"` // Unix nanoseconds
	Port      *int   `db:"port"`      // Nullable for events without a port
	PID       *int   `db:"pid"`       // Nullable for events without a process
	Detail    string `db:"detail"`
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.Unix(0, e.Timestamp).UTC()
}

// Journal stores launch lifecycle events
type Journal struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at path and prepares the schema.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New creates a journal on an existing database connection
func New(db *sqlx.DB) (*Journal, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Journal{
		db: db,
	}, nil
}

// DBInit initializes the journal events table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS journal_events (
		id TEXT PRIMARY KEY,
		launch_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		port INTEGER,
		pid INTEGER,
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_events_timestamp ON journal_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_events_launch_id ON journal_events(launch_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_journal_events_event_type ON journal_events(event_type)`)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func newEvent(launchID string, eventType EventType) *Event {
	return &Event{
		ID:        uuid.New().String(),
		LaunchID:  launchID,
		EventType: string(eventType),
		Timestamp: time.Now().UTC().UnixNano(),
	}
}

func (j *Journal) insertEvent(event *Event) error {
	_, err := j.db.NamedExec(`
		INSERT INTO journal_events (id, launch_id, event_type, timestamp, port, pid, detail)
		VALUES (:id, :launch_id, :event_type, :timestamp, :port, :pid, :detail)`,
		event,
	)
	return err
}

// LogLaunchStarted records the start of a launch for the given asset directory.
func (j *Journal) LogLaunchStarted(launchID, assetDir string) error {
	event := newEvent(launchID, EventLaunchStarted)
	event.Detail = assetDir
	return j.insertEvent(event)
}

// LogServerBound records the port the API server bound to.
func (j *Journal) LogServerBound(launchID string, port int) error {
	event := newEvent(launchID, EventServerBound)
	event.Port = &port
	return j.insertEvent(event)
}

// LogHandoffPublished records the handoff file written for port.
func (j *Journal) LogHandoffPublished(launchID, path string, port int) error {
	event := newEvent(launchID, EventHandoffPublished)
	event.Port = &port
	event.Detail = path
	return j.insertEvent(event)
}

// LogGUISpawned records the pid of the spawned GUI process.
func (j *Journal) LogGUISpawned(launchID string, pid int) error {
	event := newEvent(launchID, EventGUISpawned)
	event.PID = &pid
	return j.insertEvent(event)
}

// LogGUIExited records the GUI process exit.
func (j *Journal) LogGUIExited(launchID string, pid int, detail string) error {
	event := newEvent(launchID, EventGUIExited)
	event.PID = &pid
	event.Detail = detail
	return j.insertEvent(event)
}

// LogShutdownCompleted records a completed server shutdown.
func (j *Journal) LogShutdownCompleted(launchID string, port int) error {
	event := newEvent(launchID, EventShutdownCompleted)
	event.Port = &port
	return j.insertEvent(event)
}

// LogShutdownFailed records a server shutdown error.
func (j *Journal) LogShutdownFailed(launchID string, port int, shutdownErr error) error {
	event := newEvent(launchID, EventShutdownFailed)
	event.Port = &port
	event.Detail = shutdownErr.Error()
	return j.insertEvent(event)
}

// LogLaunchFailed records a launch aborted at stage.
func (j *Journal) LogLaunchFailed(launchID, stage string, launchErr error) error {
	event := newEvent(launchID, EventLaunchFailed)
	event.Detail = stage + ": " + launchErr.Error()
	return j.insertEvent(event)
}

// GetEventsByLaunchID retrieves the events of one launch in order
func (j *Journal) GetEventsByLaunchID(launchID string) ([]Event, error) {
	var events []Event
	err := j.db.Select(&events,
		"SELECT * FROM journal_events WHERE launch_id = $1 ORDER BY timestamp ASC",
		launchID)
	return events, err
}

// GetEventsByType retrieves journal events of a specific type
func (j *Journal) GetEventsByType(eventType EventType, limit int) ([]Event, error) {
	var events []Event
	err := j.db.Select(&events,
		"SELECT * FROM journal_events WHERE event_type = $1 ORDER BY timestamp DESC LIMIT $2",
		string(eventType), limit)
	return events, err
}

// GetRecentEvents retrieves the most recent journal events
func (j *Journal) GetRecentEvents(limit int) ([]Event, error) {
	var events []Event
	err := j.db.Select(&events,
		"SELECT * FROM journal_events ORDER BY timestamp DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOldEvents deletes journal events older than the specified duration
func (j *Journal) DeleteOldEvents(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).UnixNano()
	result, err := j.db.Exec("DELETE FROM journal_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
