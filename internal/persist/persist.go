// ABOUTME: SQLite auto-persist collaborator listening for store-mutation events
// ABOUTME: Snapshots the state record after each commit and restores it on boot

package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/ordertrack/internal/model"
	"github.com/2389/ordertrack/internal/modules/orders"
	"github.com/2389/ordertrack/internal/modules/processes"
	"github.com/2389/ordertrack/internal/modules/users"
	"github.com/2389/ordertrack/internal/store"
)

// ErrNoSnapshot is returned by Restore when no state has been persisted yet
var ErrNoSnapshot = errors.New("no snapshot")

// snapshotSlot keys the single current-state row in state_snapshots.
const snapshotSlot = 1

// Snapshotter persists the store's state record into SQLite. It is not a
// direct store subscriber: it listens on the store-mutation bus topic, so a
// persistence failure is isolated like any other listener failure.
type Snapshotter struct {
	db          *sql.DB
	logger      *slog.Logger
	unsubscribe func()
}

// snapshot is the JSON envelope a state record is serialized into. Keeping
// it typed lets Restore rebuild the state record with the concrete types
// the modules expect.
type snapshot struct {
	Orders        []model.Order   `json:"orders"`
	OrdersLoading bool            `json:"orders_loading"`
	Users         []model.User    `json:"users"`
	CurrentUser   *model.User     `json:"current_user,omitempty"`
	Processes     []model.Process `json:"processes"`
}

// LogEntry is one row of the mutation audit log. Seq is the store's commit
// sequence number, which orders entries even when the rows were written out
// of order.
type LogEntry struct {
	ID        int64
	Seq       uint64
	Name      string
	Payload   string
	CreatedAt time.Time
}

// Open creates a Snapshotter backed by a SQLite database at the given path.
// The schema is automatically created if it doesn't exist. Parent
// directories are created if needed. Pass nil logger for default.
func Open(path string, logger *slog.Logger) (*Snapshotter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persist")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	p := &Snapshotter{db: db, logger: logger}

	if err := p.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return p, nil
}

func (p *Snapshotter) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state_snapshots (
		slot INTEGER PRIMARY KEY,
		seq INTEGER NOT NULL,
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mutation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		payload TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_mutation_log_seq ON mutation_log(seq);
	`
	_, err := p.db.Exec(schema)
	return err
}

// Attach subscribes the snapshotter to the store's mutation topic. Every
// successful commit is then persisted until Close.
func (p *Snapshotter) Attach(s *store.Store) error {
	unsubscribe, err := s.Bus().Subscribe(store.TopicMutation, p.onMutation)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", store.TopicMutation, err)
	}
	p.unsubscribe = unsubscribe
	return nil
}

// onMutation persists a single MutationEvent. Failures are logged and
// swallowed: persistence must never break the commit that triggered it.
func (p *Snapshotter) onMutation(payload any) {
	event, ok := payload.(store.MutationEvent)
	if !ok {
		p.logger.Error("unexpected payload on mutation topic", "payload", payload)
		return
	}

	if err := p.save(event); err != nil {
		p.logger.Error("persisting mutation failed", "mutation", event.Name, "error", err)
	}
}

func (p *Snapshotter) save(event store.MutationEvent) error {
	data, err := json.Marshal(encodeState(event.Next))
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	now := time.Now()

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Events from concurrent commits can arrive out of order; the commit
	// sequence number decides which snapshot is newest, so a stale event
	// must never overwrite a newer one.
	_, err = tx.Exec(`
		INSERT INTO state_snapshots (slot, seq, state, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			seq = excluded.seq, state = excluded.state, updated_at = excluded.updated_at
		WHERE excluded.seq > state_snapshots.seq`,
		snapshotSlot, event.Seq, string(data), now)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}

	// Payload is audit-only; non-serializable payloads degrade to null
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		payloadJSON = []byte("null")
	}
	_, err = tx.Exec(`INSERT INTO mutation_log (seq, name, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.Seq, event.Name, string(payloadJSON), now)
	if err != nil {
		return fmt.Errorf("appending mutation log: %w", err)
	}

	return tx.Commit()
}

// Restore returns the most recently persisted state record, rebuilt with
// the concrete types the modules expect. Returns ErrNoSnapshot when the
// database holds no state yet.
func (p *Snapshotter) Restore() (store.State, error) {
	var data string
	err := p.db.QueryRow(`SELECT state FROM state_snapshots WHERE slot = ?`, snapshotSlot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	return snap.toState(), nil
}

// MutationLog returns the most recent audit log entries, newest first.
func (p *Snapshotter) MutationLog(limit int) ([]LogEntry, error) {
	rows, err := p.db.Query(
		`SELECT id, seq, name, payload, created_at FROM mutation_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mutation log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Seq, &e.Name, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mutation log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close detaches from the bus and closes the database.
func (p *Snapshotter) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	return p.db.Close()
}

// encodeState extracts the module-owned keys from a state record.
func encodeState(state store.State) snapshot {
	var snap snapshot
	snap.Orders, _ = state[orders.StateKey].([]model.Order)
	snap.OrdersLoading, _ = state[orders.LoadingKey].(bool)
	snap.Users, _ = state[users.StateKey].([]model.User)
	snap.Processes, _ = state[processes.StateKey].([]model.Process)
	if u, ok := state[users.CurrentUserKey].(model.User); ok {
		snap.CurrentUser = &u
	}
	return snap
}

// toState rebuilds a state record from a decoded snapshot.
func (s snapshot) toState() store.State {
	state := store.State{
		orders.StateKey:      s.Orders,
		orders.LoadingKey:    s.OrdersLoading,
		users.StateKey:       s.Users,
		users.CurrentUserKey: nil,
		processes.StateKey:   s.Processes,
	}
	if s.CurrentUser != nil {
		state[users.CurrentUserKey] = *s.CurrentUser
	}
	return state
}
