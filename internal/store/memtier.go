package store

import (
	"time"

	"threatmem/internal/model"
)

// entry wraps a record held by an in-memory tier. Cached entries are
// non-authoritative warm-up copies created by promotion-on-access; they
// never count toward tier membership.
type entry struct {
	rec       *model.ThreatRecord
	cached    bool
	expiresAt time.Time
}

// memTier is one in-memory retention level. The mutex guards the record
// map and the index sets together so index entries never dangle. The
// caller (TierStore) owns the lock for cross-tier moves.
type memTier struct {
	name model.Tier
	ttl  time.Duration

	records    map[string]*entry
	byIndustry map[string]map[string]struct{}
	bySeverity map[model.Severity]map[string]struct{}
}

func newMemTier(name model.Tier, ttl time.Duration) *memTier {
	return &memTier{
		name:       name,
		ttl:        ttl,
		records:    make(map[string]*entry),
		byIndustry: make(map[string]map[string]struct{}),
		bySeverity: make(map[model.Severity]map[string]struct{}),
	}
}

// putLocked inserts or refreshes an entry. The TTL is refreshed on every
// write, never on read.
func (t *memTier) putLocked(rec *model.ThreatRecord, cached bool, now time.Time) {
	if old, ok := t.records[rec.ID]; ok {
		t.unindexLocked(old.rec)
	}
	t.records[rec.ID] = &entry{rec: rec, cached: cached, expiresAt: now.Add(t.ttl)}
	t.indexLocked(rec)
}

// getLocked returns the entry if present and unexpired. Expired entries
// are treated as missing; the sweep reclaims them.
func (t *memTier) getLocked(id string, now time.Time) (*entry, bool) {
	e, ok := t.records[id]
	if !ok || now.After(e.expiresAt) {
		return nil, false
	}
	return e, true
}

// removeLocked drops an entry and its index references.
func (t *memTier) removeLocked(id string) (*entry, bool) {
	e, ok := t.records[id]
	if !ok {
		return nil, false
	}
	delete(t.records, id)
	t.unindexLocked(e.rec)
	return e, true
}

func (t *memTier) indexLocked(rec *model.ThreatRecord) {
	if ind := rec.Industry(); ind != "" {
		set, ok := t.byIndustry[ind]
		if !ok {
			set = make(map[string]struct{})
			t.byIndustry[ind] = set
		}
		set[rec.ID] = struct{}{}
	}
	sev := rec.Severity
	set, ok := t.bySeverity[sev]
	if !ok {
		set = make(map[string]struct{})
		t.bySeverity[sev] = set
	}
	set[rec.ID] = struct{}{}
}

func (t *memTier) unindexLocked(rec *model.ThreatRecord) {
	if ind := rec.Industry(); ind != "" {
		if set, ok := t.byIndustry[ind]; ok {
			delete(set, rec.ID)
			if len(set) == 0 {
				delete(t.byIndustry, ind)
			}
		}
	}
	if set, ok := t.bySeverity[rec.Severity]; ok {
		delete(set, rec.ID)
		if len(set) == 0 {
			delete(t.bySeverity, rec.Severity)
		}
	}
}

// expireLocked removes entries whose TTL elapsed and returns the expired
// authoritative records.
func (t *memTier) expireLocked(now time.Time) []*model.ThreatRecord {
	var expired []*model.ThreatRecord
	for id, e := range t.records {
		if now.After(e.expiresAt) {
			delete(t.records, id)
			t.unindexLocked(e.rec)
			if !e.cached {
				expired = append(expired, e.rec)
			}
		}
	}
	return expired
}

// activeLocked returns authoritative, unexpired records matching the
// filter. Industry and severity filters narrow the scan through the index
// sets instead of walking the whole tier.
func (t *memTier) activeLocked(f Filter, now time.Time) []*model.ThreatRecord {
	var candidates map[string]struct{}
	switch {
	case f.Industry != "":
		candidates = t.byIndustry[f.Industry]
	case f.Severity != "":
		candidates = t.bySeverity[f.Severity]
	}

	var out []*model.ThreatRecord
	if candidates != nil {
		for id := range candidates {
			e, ok := t.records[id]
			if !ok || e.cached || now.After(e.expiresAt) {
				continue
			}
			if f.matches(e.rec) {
				out = append(out, e.rec)
			}
		}
		return out
	}
	for _, e := range t.records {
		if e.cached || now.After(e.expiresAt) {
			continue
		}
		if f.matches(e.rec) {
			out = append(out, e.rec)
		}
	}
	return out
}

// lenLocked counts authoritative entries.
func (t *memTier) lenLocked() int {
	n := 0
	for _, e := range t.records {
		if !e.cached {
			n++
		}
	}
	return n
}
