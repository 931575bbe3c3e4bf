// Package markov reads the word-transition corpus that drives decoy text
// generation. The corpus is written by an external trainer; the defense core
// only ever reads it.
package markov

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// Boundary is the empty-word sentinel marking sequence starts and ends.
const Boundary = ""

// Candidate is one possible next word with its observed frequency.
type Candidate struct {
	Word string
	Freq int64
}

// Corpus provides weighted next-word candidates for a word pair. The
// generator depends on this interface so decoy rendering can be exercised
// without a database.
type Corpus interface {
	Candidates(ctx context.Context, w1, w2 string) ([]Candidate, error)
	Ping(ctx context.Context) error
}

// PostgresCorpus reads the trainer's two tables:
//
//	markov_words(id, word)                      -- word-id table
//	markov_sequences(w1, w2, next, freq)        -- unique (w1, w2, next)
type PostgresCorpus struct {
	db *sql.DB
}

// OpenPostgres connects to the corpus database and verifies connectivity.
func OpenPostgres(databaseURL string) (*PostgresCorpus, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("markov: open corpus: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("markov: ping corpus: %w", err)
	}
	return &PostgresCorpus{db: db}, nil
}

const candidatesQuery = `
SELECT wn.word, s.freq
FROM markov_sequences s
JOIN markov_words wa ON wa.id = s.w1
JOIN markov_words wb ON wb.id = s.w2
JOIN markov_words wn ON wn.id = s.next
WHERE wa.word = $1 AND wb.word = $2
ORDER BY wn.word`

// Candidates returns the next-word candidates for (w1, w2), ordered by word
// so the weighted selection is stable across calls.
func (c *PostgresCorpus) Candidates(ctx context.Context, w1, w2 string) ([]Candidate, error) {
	rows, err := c.db.QueryContext(ctx, candidatesQuery, w1, w2)
	if err != nil {
		return nil, fmt.Errorf("markov: candidates (%q, %q): %w", w1, w2, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var cand Candidate
		if err := rows.Scan(&cand.Word, &cand.Freq); err != nil {
			return nil, fmt.Errorf("markov: scan candidate: %w", err)
		}
		if cand.Freq > 0 {
			out = append(out, cand)
		}
	}
	return out, rows.Err()
}

// Ping reports corpus reachability for health checks.
func (c *PostgresCorpus) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close releases the connection pool.
func (c *PostgresCorpus) Close() error {
	return c.db.Close()
}

// MemoryCorpus is an in-process Corpus used in tests and by defense-check.
type MemoryCorpus struct {
	transitions map[[2]string][]Candidate
}

// NewMemoryCorpus builds a corpus from explicit transitions.
func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{transitions: make(map[[2]string][]Candidate)}
}

// Add records a transition (w1, w2) -> next with the given frequency.
func (m *MemoryCorpus) Add(w1, w2, next string, freq int64) {
	key := [2]string{w1, w2}
	m.transitions[key] = append(m.transitions[key], Candidate{Word: next, Freq: freq})
}

// AddSentence feeds a whole sentence through the pair window, including the
// boundary sentinels, mirroring what the external trainer does.
func (m *MemoryCorpus) AddSentence(words ...string) {
	seq := append([]string{Boundary, Boundary}, words...)
	seq = append(seq, Boundary)
	for i := 0; i+2 < len(seq); i++ {
		m.Add(seq[i], seq[i+1], seq[i+2], 1)
	}
}

func (m *MemoryCorpus) Candidates(_ context.Context, w1, w2 string) ([]Candidate, error) {
	return m.transitions[[2]string{w1, w2}], nil
}

func (m *MemoryCorpus) Ping(context.Context) error { return nil }
