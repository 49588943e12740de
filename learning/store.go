// Package learning provides the durable record of past classifications and
// user corrections. The in-memory maps are the source of truth; a debounced
// JSON snapshot on disk survives restarts.
package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// maxLearnedExamples caps per-intent learned example growth.
	maxLearnedExamples = 50

	// rawPrefixLen bounds the audit copy of the original query text.
	rawPrefixLen = 80

	// correctedConfidence is the pinned confidence for corrected records.
	correctedConfidence = 0.99
)

// QueryRecord is one learned classification, keyed by the hash of the
// normalized query text.
type QueryRecord struct {
	Intent         string         `json:"intent"`
	Entities       map[string]any `json:"entities,omitempty"`
	Confidence     float64        `json:"confidence"`
	RawQueryPrefix string         `json:"rawQueryPrefix"`
	Uses           int64          `json:"uses"`
	FirstSeen      time.Time      `json:"firstSeen"`
	LastUsed       time.Time      `json:"lastUsed"`
	Corrected      bool           `json:"corrected"`
}

// EffectiveConfidence folds usage into the stored confidence. Repeated use
// converges toward, but never exceeds, the confidence of an explicit
// correction: min(0.99, 0.9 + uses*0.01), floored by the stored value.
func (r QueryRecord) EffectiveConfidence() float64 {
	if r.Corrected {
		return correctedConfidence
	}
	boost := 0.9 + 0.01*float64(r.Uses)
	if boost > correctedConfidence {
		boost = correctedConfidence
	}
	if r.Confidence > boost {
		boost = r.Confidence
	}
	if boost > correctedConfidence {
		boost = correctedConfidence
	}
	return boost
}

// CorrectionRecord is one append-only entry in the correction log.
type CorrectionRecord struct {
	ID              string    `json:"id"`
	Query           string    `json:"query"`
	OriginalIntent  string    `json:"originalIntent"`
	CorrectedIntent string    `json:"correctedIntent"`
	UserID          string    `json:"userId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// StoreConfig configures the learning store.
type StoreConfig struct {
	// Path is the JSON snapshot location. Empty means in-memory only.
	Path string

	// FlushEvery persists after this many mutations (default: 10).
	FlushEvery int
}

// Store is the learning data owner. All mutation goes through its lock;
// concurrent classification calls share one instance.
type Store struct {
	mu          sync.RWMutex
	queries     map[string]*QueryRecord
	corrections []CorrectionRecord
	examples    map[string][]string
	created     time.Time

	file       *snapshotFile
	flushEvery int
	dirty      int

	// flushMu serializes snapshot writes so a slow flush cannot rename an
	// older snapshot over a newer one.
	flushMu sync.Mutex
}

// NewStore opens (or creates) a learning store. A corrupt or missing
// snapshot degrades to an empty store rather than failing: the learning
// subsystem is an optimization, never a hard dependency.
func NewStore(cfg StoreConfig) *Store {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}

	s := &Store{
		queries:    make(map[string]*QueryRecord),
		examples:   make(map[string][]string),
		created:    time.Now().UTC(),
		flushEvery: cfg.FlushEvery,
	}

	if cfg.Path != "" {
		s.file = &snapshotFile{path: cfg.Path}
		doc, err := s.file.load()
		switch {
		case err != nil:
			slog.Warn("learning: snapshot unreadable, starting empty", "path", cfg.Path, "error", err)
		case doc != nil:
			s.queries = doc.Queries
			s.corrections = doc.Corrections
			s.examples = doc.IntentExamples
			if !doc.Created.IsZero() {
				s.created = doc.Created
			}
			if s.queries == nil {
				s.queries = make(map[string]*QueryRecord)
			}
			if s.examples == nil {
				s.examples = make(map[string][]string)
			}
			slog.Info("learning: snapshot loaded",
				"path", cfg.Path,
				"queries", len(s.queries),
				"corrections", len(s.corrections))
		}
	}

	return s
}

// QueryHash returns the stable key for a normalized query.
func QueryHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// Get returns a copy of the record for hash.
func (s *Store) Get(hash string) (QueryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.queries[hash]
	if !ok {
		return QueryRecord{}, false
	}
	return *rec, true
}

// Put upserts a learned classification. New keys start at uses=1; an
// existing key counts the write as one more use, so two calls that learn
// the same hash land at uses=2 regardless of interleaving. A corrected
// record never loses its pinned confidence to an ordinary learning write.
func (s *Store) Put(hash, intentName string, entities map[string]any, confidence float64, rawQuery string) {
	now := time.Now().UTC()

	s.mu.Lock()
	if rec, ok := s.queries[hash]; ok {
		if !rec.Corrected {
			rec.Intent = intentName
			rec.Entities = entities
			rec.Confidence = confidence
		}
		rec.Uses++
		rec.LastUsed = now
	} else {
		s.queries[hash] = &QueryRecord{
			Intent:         intentName,
			Entities:       entities,
			Confidence:     confidence,
			RawQueryPrefix: truncateRunes(rawQuery, rawPrefixLen),
			Uses:           1,
			FirstSeen:      now,
			LastUsed:       now,
		}
	}
	s.dirty++
	flush := s.dirty >= s.flushEvery
	s.mu.Unlock()

	if flush {
		s.flush()
	}
}

// IncrementUsage bumps the usage counter for hash. Returns the new count.
func (s *Store) IncrementUsage(hash string) (int64, bool) {
	s.mu.Lock()
	rec, ok := s.queries[hash]
	if !ok {
		s.mu.Unlock()
		return 0, false
	}
	rec.Uses++
	rec.LastUsed = time.Now().UTC()
	uses := rec.Uses
	s.dirty++
	flush := s.dirty >= s.flushEvery
	s.mu.Unlock()

	if flush {
		s.flush()
	}
	return uses, true
}

// RecordCorrection applies an explicit user correction: appends to the
// correction log, pins the query record to the corrected intent, and grows
// the corrected intent's learned example set. Corrections flush immediately.
func (s *Store) RecordCorrection(query, normalized, originalIntent, correctedIntent, userID string) CorrectionRecord {
	now := time.Now().UTC()
	corr := CorrectionRecord{
		ID:              uuid.NewString(),
		Query:           query,
		OriginalIntent:  originalIntent,
		CorrectedIntent: correctedIntent,
		UserID:          userID,
		Timestamp:       now,
	}

	hash := QueryHash(normalized)

	s.mu.Lock()
	s.corrections = append(s.corrections, corr)

	if rec, ok := s.queries[hash]; ok {
		rec.Intent = correctedIntent
		rec.Confidence = correctedConfidence
		rec.Corrected = true
		rec.LastUsed = now
	} else {
		s.queries[hash] = &QueryRecord{
			Intent:         correctedIntent,
			Confidence:     correctedConfidence,
			RawQueryPrefix: truncateRunes(query, rawPrefixLen),
			Uses:           1,
			FirstSeen:      now,
			LastUsed:       now,
			Corrected:      true,
		}
	}

	s.addExampleLocked(correctedIntent, normalized)
	s.dirty = 0
	s.mu.Unlock()

	s.flush()
	return corr
}

// AddExample appends a learned example for an intent, subject to the
// 50-entry cap and duplicate rejection. Returns false when rejected.
func (s *Store) AddExample(intentName, example string) bool {
	s.mu.Lock()
	added := s.addExampleLocked(intentName, example)
	if added {
		s.dirty++
	}
	flush := s.dirty >= s.flushEvery
	s.mu.Unlock()

	if flush {
		s.flush()
	}
	return added
}

func (s *Store) addExampleLocked(intentName, example string) bool {
	if example == "" {
		return false
	}
	existing := s.examples[intentName]
	if len(existing) >= maxLearnedExamples {
		return false
	}
	for _, e := range existing {
		if e == example {
			return false
		}
	}
	s.examples[intentName] = append(existing, example)
	return true
}

// ExampleSets returns a snapshot of learned examples per intent.
func (s *Store) ExampleSets() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sets := make(map[string][]string, len(s.examples))
	for name, examples := range s.examples {
		cp := make([]string, len(examples))
		copy(cp, examples)
		sets[name] = cp
	}
	return sets
}

// Counts returns the number of learned queries and recorded corrections.
func (s *Store) Counts() (queries, corrections int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queries), len(s.corrections)
}

// Flush forces a snapshot write regardless of the debounce counter.
func (s *Store) Flush() {
	s.flush()
}

// Close flushes pending mutations. The store remains usable afterwards.
func (s *Store) Close() {
	s.flush()
}

// flush writes the snapshot. Persistence failures are logged and swallowed;
// the in-memory state stays authoritative until the next attempt.
func (s *Store) flush() {
	if s.file == nil {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	doc := &document{
		Version:        snapshotVersion,
		Created:        s.created,
		Queries:        make(map[string]*QueryRecord, len(s.queries)),
		Corrections:    append([]CorrectionRecord(nil), s.corrections...),
		IntentExamples: make(map[string][]string, len(s.examples)),
	}
	for hash, rec := range s.queries {
		cp := *rec
		doc.Queries[hash] = &cp
	}
	for name, examples := range s.examples {
		doc.IntentExamples[name] = append([]string(nil), examples...)
	}
	s.dirty = 0
	s.mu.Unlock()

	if err := s.file.save(doc); err != nil {
		slog.Warn("learning: snapshot write failed", "path", s.file.path, "error", err)
	}
}

// truncateRunes truncates to maxLen runes (Unicode-safe).
func truncateRunes(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
