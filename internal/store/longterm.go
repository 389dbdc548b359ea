package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"threatmem/internal/model"
)

// LongTermStore persists consolidated memories in SQLite. The industry,
// type and score indexes live in the same database as the rows, so every
// write keeps them consistent in one transaction.
type LongTermStore struct {
	db      *sql.DB
	ttl     time.Duration
	breaker *circuitBreaker
	entropy *rand.Rand
}

// NewLongTermStore opens (or creates) the long-term database. Use
// ":memory:" for tests.
func NewLongTermStore(dbPath string, ttl time.Duration) (*LongTermStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open long-term db: %w", err)
	}
	s := &LongTermStore{
		db:      db,
		ttl:     ttl,
		breaker: newCircuitBreaker(5, 30*time.Second),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate long-term db: %w", err)
	}
	return s, nil
}

func (s *LongTermStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		memory_id           TEXT PRIMARY KEY,
		source_threat_id    TEXT NOT NULL UNIQUE,
		content             TEXT NOT NULL,
		severity            TEXT NOT NULL,
		metadata            TEXT,
		score               REAL NOT NULL DEFAULT 0,
		confidence          REAL NOT NULL,
		consolidation_count INTEGER NOT NULL DEFAULT 1,
		memory_type         TEXT NOT NULL,
		decay_exempt        INTEGER NOT NULL DEFAULT 0,
		valid_from          TEXT NOT NULL,
		valid_to            TEXT,
		industry            TEXT,
		export_pending      INTEGER NOT NULL DEFAULT 1,
		archived            INTEGER NOT NULL DEFAULT 0,
		last_decay_at       TEXT NOT NULL,
		expires_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_industry ON memories(industry);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_score ON memories(archived, score DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_export ON memories(export_pending) WHERE export_pending = 1;
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *LongTermStore) Close() error { return s.db.Close() }

// NewMemoryID mints a ULID for a freshly consolidated memory.
func (s *LongTermStore) NewMemoryID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// guard wraps a storage call with the circuit breaker.
func (s *LongTermStore) guard(op func() error) error {
	if !s.breaker.allow() {
		return model.ErrStorageUnavailable
	}
	if err := op(); err != nil {
		s.breaker.recordFailure()
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	s.breaker.recordSuccess()
	return nil
}

// Upsert inserts a memory, or reconsolidates the existing memory for the
// same source threat: consolidation count grows, confidence keeps the
// higher value, the export flag is raised again and archival is undone.
func (s *LongTermStore) Upsert(ctx context.Context, mem *model.LongTermMemory, now time.Time) error {
	return s.guard(func() error {
		metaJSON, _ := json.Marshal(mem.Metadata)
		expires := now.Add(s.ttl).Format(time.RFC3339Nano)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (
				memory_id, source_threat_id, content, severity, metadata,
				score, confidence, consolidation_count, memory_type,
				decay_exempt, valid_from, industry, export_pending,
				archived, last_decay_at, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT(source_threat_id) DO UPDATE SET
				content             = excluded.content,
				severity            = excluded.severity,
				metadata            = excluded.metadata,
				score               = MAX(score, excluded.score),
				confidence          = MAX(confidence, excluded.confidence),
				consolidation_count = consolidation_count + 1,
				decay_exempt        = MAX(decay_exempt, excluded.decay_exempt),
				valid_to            = NULL,
				export_pending      = 1,
				archived            = 0,
				expires_at          = excluded.expires_at`,
			mem.MemoryID, mem.SourceThreatID, mem.Content, string(mem.Severity),
			string(metaJSON), mem.Score, mem.Confidence, mem.ConsolidationCount,
			string(mem.MemoryType), boolToInt(mem.DecayExempt),
			mem.ValidFrom.Format(time.RFC3339Nano), mem.Industry,
			now.Format(time.RFC3339Nano), expires)
		return err
	})
}

// Get returns the active memory derived from the given source threat id.
func (s *LongTermStore) Get(ctx context.Context, sourceThreatID string) (*model.LongTermMemory, error) {
	var mem *model.LongTermMemory
	err := s.guard(func() error {
		row := s.db.QueryRowContext(ctx,
			selectCols+` FROM memories WHERE source_threat_id = ? AND archived = 0`,
			sourceThreatID)
		m, err := scanMemory(row)
		if err != nil {
			return err
		}
		mem = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, model.ErrNotFound
	}
	return mem, nil
}

// GetByMemoryID returns a memory by its own id, archived or not.
func (s *LongTermStore) GetByMemoryID(ctx context.Context, memoryID string) (*model.LongTermMemory, error) {
	var mem *model.LongTermMemory
	err := s.guard(func() error {
		row := s.db.QueryRowContext(ctx,
			selectCols+` FROM memories WHERE memory_id = ?`, memoryID)
		m, err := scanMemory(row)
		if err != nil {
			return err
		}
		mem = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mem == nil {
		return nil, model.ErrNotFound
	}
	return mem, nil
}

// TopByScore returns the active memories ranked by score descending.
func (s *LongTermStore) TopByScore(ctx context.Context, limit int) ([]*model.LongTermMemory, error) {
	return s.queryMemories(ctx,
		selectCols+` FROM memories WHERE archived = 0 ORDER BY score DESC LIMIT ?`, limit)
}

// ByIndustry returns active memories for one industry.
func (s *LongTermStore) ByIndustry(ctx context.Context, industry string) ([]*model.LongTermMemory, error) {
	return s.queryMemories(ctx,
		selectCols+` FROM memories WHERE archived = 0 AND industry = ?`, industry)
}

// Decayable returns active memories eligible for the decay pass. Exempt
// memories never appear here, so the decay process cannot touch them.
func (s *LongTermStore) Decayable(ctx context.Context) ([]*model.LongTermMemory, error) {
	return s.queryMemories(ctx,
		selectCols+` FROM memories WHERE archived = 0 AND decay_exempt = 0`)
}

// SetConfidence writes a decayed confidence value and advances the decay
// anchor.
func (s *LongTermStore) SetConfidence(ctx context.Context, memoryID string, confidence float64, decayedAt time.Time) error {
	return s.guard(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories SET confidence = ?, last_decay_at = ? WHERE memory_id = ?`,
			confidence, decayedAt.Format(time.RFC3339Nano), memoryID)
		return err
	})
}

// Archive removes a memory from the active set and stamps valid_to.
func (s *LongTermStore) Archive(ctx context.Context, memoryID string, now time.Time) error {
	return s.guard(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories SET archived = 1, valid_to = ? WHERE memory_id = ? AND archived = 0`,
			now.Format(time.RFC3339Nano), memoryID)
		return err
	})
}

// ExpireSweep archives active memories whose retention window elapsed and
// returns how many it touched.
func (s *LongTermStore) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.guard(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE memories SET archived = 1, valid_to = ? WHERE archived = 0 AND expires_at < ?`,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// PendingExports lists active memories awaiting the external graph
// consumer.
func (s *LongTermStore) PendingExports(ctx context.Context) ([]*model.LongTermMemory, error) {
	return s.queryMemories(ctx,
		selectCols+` FROM memories WHERE archived = 0 AND export_pending = 1`)
}

// MarkExported clears the pending flag once the consumer confirms.
func (s *LongTermStore) MarkExported(ctx context.Context, memoryID string) error {
	var affected int64
	err := s.guard(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE memories SET export_pending = 0 WHERE memory_id = ?`, memoryID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SourceIDs lists every source threat id ever consolidated, archived or
// not. Used to seed the known-id bloom filter at startup.
func (s *LongTermStore) SourceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.guard(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT source_threat_id FROM memories`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountActive counts memories in the active set.
func (s *LongTermStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.guard(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memories WHERE archived = 0`).Scan(&n)
	})
	return n, err
}

const selectCols = `SELECT memory_id, source_threat_id, content, severity,
	metadata, score, confidence, consolidation_count, memory_type,
	decay_exempt, valid_from, valid_to, industry, export_pending,
	last_decay_at`

func (s *LongTermStore) queryMemories(ctx context.Context, query string, args ...any) ([]*model.LongTermMemory, error) {
	var out []*model.LongTermMemory
	err := s.guard(func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				return err
			}
			if m != nil {
				out = append(out, m)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory maps one row; a sql.ErrNoRows scan yields (nil, nil) so the
// breaker does not trip on an ordinary miss.
func scanMemory(row rowScanner) (*model.LongTermMemory, error) {
	var m model.LongTermMemory
	var severity, memType, validFrom, lastDecay string
	var metaJSON, validTo, industry sql.NullString
	var decayExempt, exportPending int
	err := row.Scan(&m.MemoryID, &m.SourceThreatID, &m.Content, &severity,
		&metaJSON, &m.Score, &m.Confidence, &m.ConsolidationCount, &memType,
		&decayExempt, &validFrom, &validTo, &industry, &exportPending,
		&lastDecay)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Severity = model.Severity(severity)
	m.MemoryType = model.MemoryType(memType)
	m.DecayExempt = decayExempt == 1
	m.ExportPending = exportPending == 1
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
	}
	if industry.Valid {
		m.Industry = industry.String
	}
	m.ValidFrom, _ = time.Parse(time.RFC3339Nano, validFrom)
	m.LastDecayAt, _ = time.Parse(time.RFC3339Nano, lastDecay)
	if validTo.Valid && validTo.String != "" {
		t, err := time.Parse(time.RFC3339Nano, validTo.String)
		if err == nil {
			m.ValidTo = &t
		}
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
