// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spine

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hydra/spine/internal/idgen"
	"hydra/spineerr"
)

// Ledger is the append-only durable store of actions, decisions, head/limb
// lifecycle and memory facts, grounded on hydra/ledger.py's schema and
// locking discipline: one writer lock, SQLite for portability.
type Ledger struct {
	db        *sql.DB
	dbPath    string
	sessionID string
	secret    string
	mu        sync.Mutex // single writer lock, per spec §5's locking discipline
}

// OpenLedger opens (and if absent, creates) the SQLite-backed ledger at
// dbPath, scoped to sessionID (generated if empty).
func OpenLedger(dbPath, sessionID string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "Open", "failed to open database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers; the Ledger's own mutex is primary, this is belt-and-suspenders

	if sessionID == "" {
		sessionID = idgen.SessionID()
	}

	l := &Ledger{
		db:        db,
		dbPath:    dbPath,
		sessionID: sessionID,
		secret:    sessionSecret(sessionID),
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func sessionSecret(sessionID string) string {
	sum := sha256.Sum256([]byte("hydra:" + sessionID))
	return hex.EncodeToString(sum[:])
}

// SessionID returns this ledger's scoping session id.
func (l *Ledger) SessionID() string { return l.sessionID }

// DBPath returns the backing file path.
func (l *Ledger) DBPath() string { return l.dbPath }

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) initSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			head_id TEXT,
			limb_id TEXT,
			action TEXT NOT NULL,
			target TEXT,
			payload TEXT,
			decision TEXT,
			score REAL,
			parent_id TEXT,
			session_id TEXT,
			signature TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session ON ledger(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_type ON ledger(entry_type)`,
		`CREATE INDEX IF NOT EXISTS idx_head ON ledger(head_id)`,
		`CREATE INDEX IF NOT EXISTS idx_limb ON ledger(limb_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decision ON ledger(decision)`,
		`CREATE INDEX IF NOT EXISTS idx_timestamp ON ledger(timestamp)`,
		`CREATE TABLE IF NOT EXISTS memory (
			key TEXT PRIMARY KEY,
			value TEXT,
			category TEXT,
			importance REAL DEFAULT 0.5,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			access_count INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS active_heads (
			head_id TEXT PRIMARY KEY,
			ai_type TEXT,
			model TEXT,
			connected_at DATETIME,
			last_action DATETIME,
			status TEXT DEFAULT 'active'
		)`,
		`CREATE TABLE IF NOT EXISTS active_limbs (
			limb_id TEXT PRIMARY KEY,
			limb_type TEXT,
			tab_id TEXT,
			activated_at DATETIME,
			last_action DATETIME,
			status TEXT DEFAULT 'active'
		)`,
		`CREATE TABLE IF NOT EXISTS keywords (
			keyword TEXT NOT NULL,
			memory_key TEXT NOT NULL,
			PRIMARY KEY (keyword, memory_key)
		)`,
	}

	for _, s := range stmts {
		if _, err := l.db.Exec(s); err != nil {
			return spineerr.Wrap(spineerr.StorageError, "Ledger", "initSchema", "schema statement failed", err)
		}
	}
	return nil
}

func signature(id, entryType, action, target, secret string) string {
	content := fmt.Sprintf("%s:%s:%s:%s:%s", id, entryType, action, target, secret)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:32]
}

// Verify reports whether entry's signature matches what the Ledger would
// compute for it under this session's secret (spec invariant I3).
func (l *Ledger) Verify(entry LedgerEntry) bool {
	return entry.Signature == signature(entry.ID, entry.EntryType, entry.Action, entry.Target, l.secret)
}

// Write appends a single entry, setting SessionID and Signature itself —
// callers never set either (spec invariant (b)).
func (l *Ledger) Write(entry LedgerEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%s-%s", entry.EntryType, uuid.NewString()[:8])
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	entry.SessionID = l.sessionID
	entry.Signature = signature(entry.ID, entry.EntryType, entry.Action, entry.Target, l.secret)

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return "", spineerr.Wrap(spineerr.InternalError, "Ledger", "Write", "payload marshal failed", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.db.Exec(`INSERT INTO ledger (
		id, entry_type, timestamp, head_id, limb_id, action, target,
		payload, decision, score, parent_id, session_id, signature
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EntryType, entry.Timestamp, nullable(entry.HeadID), nullable(entry.LimbID),
		entry.Action, entry.Target, string(payload), nullable(entry.Decision), entry.Score,
		nullable(entry.ParentID), entry.SessionID, entry.Signature)
	if err != nil {
		return "", spineerr.Wrap(spineerr.StorageError, "Ledger", "Write", "insert failed", err)
	}
	return entry.ID, nil
}

// WriteBatch writes every entry inside a single transaction, for
// crash-atomicity of a Dispatcher call's ACTION+DECISION(+CHECKPOINT/ERROR)
// writes — resolves Open Question (c). Returns the entries as actually
// persisted (ID/Timestamp/SessionID/Signature populated), in the same order,
// so callers that need to publish what was written (e.g. the WebSocket hub's
// OnDecision fanout) don't have to re-derive those fields themselves.
func (l *Ledger) WriteBatch(entries []LedgerEntry) ([]LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "WriteBatch", "begin tx failed", err)
	}

	out := make([]LedgerEntry, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("%s-%s", entry.EntryType, uuid.NewString()[:8])
		}
		if entry.Timestamp == "" {
			entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		}
		entry.SessionID = l.sessionID
		entry.Signature = signature(entry.ID, entry.EntryType, entry.Action, entry.Target, l.secret)

		payload, merr := json.Marshal(entry.Payload)
		if merr != nil {
			tx.Rollback()
			return nil, spineerr.Wrap(spineerr.InternalError, "Ledger", "WriteBatch", "payload marshal failed", merr)
		}

		if _, err = tx.Exec(`INSERT INTO ledger (
			id, entry_type, timestamp, head_id, limb_id, action, target,
			payload, decision, score, parent_id, session_id, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.EntryType, entry.Timestamp, nullable(entry.HeadID), nullable(entry.LimbID),
			entry.Action, entry.Target, string(payload), nullable(entry.Decision), entry.Score,
			nullable(entry.ParentID), entry.SessionID, entry.Signature); err != nil {
			tx.Rollback()
			return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "WriteBatch", "insert failed", err)
		}
		out = append(out, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "WriteBatch", "commit failed", err)
	}
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Read looks up a single entry by id.
func (l *Ledger) Read(id string) (*LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.db.QueryRow(`SELECT id, entry_type, timestamp, head_id, limb_id, action, target,
		payload, decision, score, parent_id, session_id, signature FROM ledger WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "Read", "query failed", err)
	}
	return entry, nil
}

// QueryFilter narrows a Query call; zero-value fields are ignored.
type QueryFilter struct {
	EntryType string
	HeadID    string
	LimbID    string
	Decision  string
	SessionID string
	Limit     int
	Offset    int
}

// Query returns entries matching filter, newest first.
func (l *Ledger) Query(f QueryFilter) ([]LedgerEntry, error) {
	where := "1=1"
	var args []interface{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		where += fmt.Sprintf(" AND %s = ?", col)
		args = append(args, val)
	}
	add("entry_type", f.EntryType)
	add("head_id", f.HeadID)
	add("limb_id", f.LimbID)
	add("decision", f.Decision)
	add("session_id", f.SessionID)

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	l.mu.Lock()
	rows, err := l.db.Query(fmt.Sprintf(`SELECT id, entry_type, timestamp, head_id, limb_id, action, target,
		payload, decision, score, parent_id, session_id, signature FROM ledger
		WHERE %s ORDER BY timestamp DESC LIMIT ? OFFSET ?`, where), args...)
	l.mu.Unlock()
	if err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "Query", "query failed", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "Query", "scan failed", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*LedgerEntry, error) {
	var e LedgerEntry
	var headID, limbID, decision, parentID, sessionID sql.NullString
	var score sql.NullFloat64
	var payload string

	if err := s.Scan(&e.ID, &e.EntryType, &e.Timestamp, &headID, &limbID, &e.Action, &e.Target,
		&payload, &decision, &score, &parentID, &sessionID, &e.Signature); err != nil {
		return nil, err
	}

	e.HeadID = headID.String
	e.LimbID = limbID.String
	e.Decision = decision.String
	e.ParentID = parentID.String
	e.SessionID = sessionID.String
	if score.Valid {
		e.Score = &score.Float64
	}
	if payload != "" {
		_ = json.Unmarshal([]byte(payload), &e.Payload)
	}
	return &e, nil
}

// ExportSession returns every entry for sessionID (or this ledger's own
// session if empty) — the supplemented export_session feature.
func (l *Ledger) ExportSession(sessionID string) ([]LedgerEntry, error) {
	if sessionID == "" {
		sessionID = l.sessionID
	}
	return l.Query(QueryFilter{SessionID: sessionID, Limit: 10000})
}

// ---- Memory operations ----------------------------------------------------

// Remember upserts a cross-session memory fact.
func (l *Ledger) Remember(key string, value interface{}, category string, importance float64) error {
	v, err := json.Marshal(value)
	if err != nil {
		return spineerr.Wrap(spineerr.InternalError, "Ledger", "Remember", "value marshal failed", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(`INSERT INTO memory (key, value, category, importance, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, category=excluded.category,
			importance=excluded.importance, updated_at=CURRENT_TIMESTAMP`,
		key, string(v), category, importance)
	if err != nil {
		return spineerr.Wrap(spineerr.StorageError, "Ledger", "Remember", "upsert failed", err)
	}
	return nil
}

// Recall reads a fact by key, incrementing access_count atomically with the
// read (both statements run under the ledger's single writer lock).
func (l *Ledger) Recall(key string) (interface{}, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(`UPDATE memory SET access_count = access_count + 1 WHERE key = ?`, key); err != nil {
		return nil, false, spineerr.Wrap(spineerr.StorageError, "Ledger", "Recall", "access_count update failed", err)
	}

	var raw string
	err := l.db.QueryRow(`SELECT value FROM memory WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spineerr.Wrap(spineerr.StorageError, "Ledger", "Recall", "select failed", err)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, spineerr.Wrap(spineerr.InternalError, "Ledger", "Recall", "value unmarshal failed", err)
	}
	return v, true, nil
}

// MemoryRow is one row back from SearchMemory, with the raw fields the
// Librarian's relevance scoring needs.
type MemoryRow struct {
	Key         string
	Value       string // raw JSON, caller unmarshals on demand
	Category    string
	Importance  float64
	AccessCount int64
	CreatedAt   string
}

// SearchMemory returns facts ordered by importance DESC, access_count DESC.
func (l *Ledger) SearchMemory(pattern, category string, limit int) ([]MemoryRow, error) {
	if limit <= 0 {
		limit = 20
	}

	var query string
	var args []interface{}
	switch {
	case pattern != "" && category != "":
		query = `SELECT key, value, category, importance, access_count, created_at FROM memory
			WHERE key LIKE ? AND category = ? ORDER BY importance DESC, access_count DESC LIMIT ?`
		args = []interface{}{"%" + pattern + "%", category, limit}
	case pattern != "":
		query = `SELECT key, value, category, importance, access_count, created_at FROM memory
			WHERE key LIKE ? OR value LIKE ? ORDER BY importance DESC, access_count DESC LIMIT ?`
		args = []interface{}{"%" + pattern + "%", "%" + pattern + "%", limit}
	case category != "":
		query = `SELECT key, value, category, importance, access_count, created_at FROM memory
			WHERE category = ? ORDER BY importance DESC, access_count DESC LIMIT ?`
		args = []interface{}{category, limit}
	default:
		query = `SELECT key, value, category, importance, access_count, created_at FROM memory
			ORDER BY importance DESC, access_count DESC LIMIT ?`
		args = []interface{}{limit}
	}

	l.mu.Lock()
	rows, err := l.db.Query(query, args...)
	l.mu.Unlock()
	if err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "SearchMemory", "query failed", err)
	}
	defer rows.Close()

	var out []MemoryRow
	for rows.Next() {
		var r MemoryRow
		if err := rows.Scan(&r.Key, &r.Value, &r.Category, &r.Importance, &r.AccessCount, &r.CreatedAt); err != nil {
			return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "SearchMemory", "scan failed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveKeyword records keyword -> memory_key in the durable reverse index.
// Idempotent: insert-or-ignore.
func (l *Ledger) SaveKeyword(keyword, memoryKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`INSERT OR IGNORE INTO keywords (keyword, memory_key) VALUES (?, ?)`, keyword, memoryKey)
	if err != nil {
		return spineerr.Wrap(spineerr.StorageError, "Ledger", "SaveKeyword", "insert failed", err)
	}
	return nil
}

// LoadKeywords rehydrates the full reverse index; the Librarian treats this
// as the source of truth at startup and caches it in memory afterward.
func (l *Ledger) LoadKeywords() (map[string][]string, error) {
	l.mu.Lock()
	rows, err := l.db.Query(`SELECT keyword, memory_key FROM keywords`)
	l.mu.Unlock()
	if err != nil {
		return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "LoadKeywords", "query failed", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var kw, key string
		if err := rows.Scan(&kw, &key); err != nil {
			return nil, spineerr.Wrap(spineerr.StorageError, "Ledger", "LoadKeywords", "scan failed", err)
		}
		out[kw] = append(out[kw], key)
	}
	return out, rows.Err()
}

// ---- Head / limb registry persistence --------------------------------------

func (l *Ledger) RegisterHead(headID, aiType, model string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`INSERT INTO active_heads (head_id, ai_type, model, connected_at, status)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, 'active')
		ON CONFLICT(head_id) DO UPDATE SET ai_type=excluded.ai_type, model=excluded.model,
			connected_at=CURRENT_TIMESTAMP, status='active'`, headID, aiType, model)
	if err != nil {
		return spineerr.Wrap(spineerr.StorageError, "Ledger", "RegisterHead", "upsert failed", err)
	}
	return nil
}

func (l *Ledger) UnregisterHead(headID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`UPDATE active_heads SET status = 'disconnected' WHERE head_id = ?`, headID)
	if err != nil {
		return spineerr.Wrap(spineerr.StorageError, "Ledger", "UnregisterHead", "update failed", err)
	}
	return nil
}

func (l *Ledger) RegisterLimb(limbID, limbType, tabID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`INSERT INTO active_limbs (limb_id, limb_type, tab_id, activated_at, status)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, 'active')
		ON CONFLICT(limb_id) DO UPDATE SET limb_type=excluded.limb_type, tab_id=excluded.tab_id,
			activated_at=CURRENT_TIMESTAMP, status='active'`, limbID, limbType, nullable(tabID))
	if err != nil {
		return spineerr.Wrap(spineerr.StorageError, "Ledger", "RegisterLimb", "upsert failed", err)
	}
	return nil
}

// Stats aggregates counts by entry_type and by decision, plus active
// head/limb/memory counts.
type Stats struct {
	TotalEntries int64            `json:"total_entries"`
	ByType       map[string]int64 `json:"by_type"`
	ByDecision   map[string]int64 `json:"by_decision"`
	ActiveHeads  int64            `json:"active_heads"`
	ActiveLimbs  int64            `json:"active_limbs"`
	MemoryFacts  int64            `json:"memory_facts"`
	SessionID    string           `json:"session_id"`
	DBPath       string           `json:"db_path"`
}

func (l *Ledger) Stats() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	s.ByType = make(map[string]int64)
	s.ByDecision = make(map[string]int64)
	s.SessionID = l.sessionID
	s.DBPath = l.dbPath

	if err := l.db.QueryRow(`SELECT COUNT(*) FROM ledger`).Scan(&s.TotalEntries); err != nil {
		return s, spineerr.Wrap(spineerr.StorageError, "Ledger", "Stats", "count failed", err)
	}

	rows, err := l.db.Query(`SELECT entry_type, COUNT(*) FROM ledger GROUP BY entry_type`)
	if err != nil {
		return s, spineerr.Wrap(spineerr.StorageError, "Ledger", "Stats", "by_type failed", err)
	}
	for rows.Next() {
		var t string
		var c int64
		if err := rows.Scan(&t, &c); err == nil {
			s.ByType[t] = c
		}
	}
	rows.Close()

	rows, err = l.db.Query(`SELECT decision, COUNT(*) FROM ledger WHERE decision IS NOT NULL GROUP BY decision`)
	if err != nil {
		return s, spineerr.Wrap(spineerr.StorageError, "Ledger", "Stats", "by_decision failed", err)
	}
	for rows.Next() {
		var d string
		var c int64
		if err := rows.Scan(&d, &c); err == nil {
			s.ByDecision[d] = c
		}
	}
	rows.Close()

	l.db.QueryRow(`SELECT COUNT(*) FROM active_heads WHERE status = 'active'`).Scan(&s.ActiveHeads)
	l.db.QueryRow(`SELECT COUNT(*) FROM active_limbs WHERE status = 'active'`).Scan(&s.ActiveLimbs)
	l.db.QueryRow(`SELECT COUNT(*) FROM memory`).Scan(&s.MemoryFacts)

	return s, nil
}
