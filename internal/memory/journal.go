// Package memory provides the sqlite-backed agent memory journal. Every
// notable event (interactions, campaigns, recoveries, audits) is recorded
// as a timestamped entry per agent, and recent entries feed back into
// cognitive action context. A nil journal is a valid no-op, so callers
// never need to guard against a missing database.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mastermind/internal/logging"
)

// Entry kinds recorded by the journal.
const (
	KindInteraction = "interaction"
	KindCampaign    = "campaign"
	KindRecovery    = "recovery"
	KindAudit       = "audit"
	KindLesson      = "lesson"
)

// Entry is one journal record.
type Entry struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Journal is the append-mostly memory store shared by the kernel and its
// agents.
type Journal struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	j := &Journal{db: db, dbPath: path}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Memory("journal open at %s", path)
	return j, nil
}

// initSchema creates the journal table.
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		payload_json TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_agent ON journal(agent_id);
	CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind);
	CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON journal(timestamp);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close releases the database. Safe on nil.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.dbPath
}

// Record appends an entry. A nil journal swallows the write.
func (j *Journal) Record(agentID, kind, summary string, payload map[string]any) error {
	if j == nil {
		return nil
	}

	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO journal (id, agent_id, kind, summary, payload_json, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		"mem-"+uuid.New().String()[:8], agentID, kind, summary, string(payloadJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	logging.MemoryDebug("recorded %s entry for %s: %s", kind, agentID, summary)
	return nil
}

// Recent returns up to n entries for the agent, newest first. An empty
// kind matches all kinds. A nil journal returns nothing.
func (j *Journal) Recent(agentID, kind string, n int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	if n < 1 {
		n = 1
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	query := `SELECT id, agent_id, kind, summary, payload_json, timestamp FROM journal WHERE agent_id = ?`
	args := []any{agentID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, n)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payloadJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Kind, &e.Summary, &payloadJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				logging.MemoryDebug("payload for %s unreadable: %v", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries for the agent across all kinds.
func (j *Journal) Count(agentID string) (int, error) {
	if j == nil {
		return 0, nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()

	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM journal WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}
