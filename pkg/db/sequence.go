package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yumyai/probemapper/pkg/model"
)

var ErrNoSequenceTable = errors.New("biosequence table does not exist")

type NoSequenceError struct {
	Name string
}

func (e *NoSequenceError) Error() string {
	return fmt.Sprintf("Sequence error: no sequence named %q", e.Name)
}

// SequenceStore reads probe metadata (type, taxon, length, repeat content)
// from the biosequence table.
type SequenceStore struct {
	db *sql.DB
}

func NewSequenceStore(db *sql.DB) *SequenceStore {
	return &SequenceStore{db: db}
}

// Check fails with ErrNoSequenceTable when the database has no biosequence table.
func (s *SequenceStore) Check(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'biosequence'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSequenceTable
	}
	return err
}

func (s *SequenceStore) Get(ctx context.Context, name string) (*model.SequenceRecord, error) {
	var (
		r        model.SequenceRecord
		seqType  string
		fraction sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, taxon, type, length, fractionRepeats, sequence FROM biosequence WHERE name = ?`, name).
		Scan(&r.Name, &r.Taxon, &seqType, &r.Length, &fraction, &r.Sequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NoSequenceError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("sequence %s: %w", name, err)
	}

	if r.Type, err = model.ParseSequenceType(seqType); err != nil {
		return nil, fmt.Errorf("sequence %s: %w", name, err)
	}
	if fraction.Valid {
		f := fraction.Float64
		r.FractionRepeats = &f
	}
	return &r, nil
}

// Annotate replaces the query record of each hit with the stored record of
// the same name, keeping the PSL query size as the length when none is
// stored. Hits of sequences that are not stored keep their record. Returns
// the number of distinct sequences found.
func (s *SequenceStore) Annotate(ctx context.Context, hits []*model.AlignmentHit) (int, error) {
	records := make(map[string]*model.SequenceRecord)
	for _, h := range hits {
		name := h.QueryName()
		if name == "" {
			continue
		}
		r, seen := records[name]
		if !seen {
			stored, err := s.Get(ctx, name)
			var noSeq *NoSequenceError
			switch {
			case errors.As(err, &noSeq):
				stored = nil
			case err != nil:
				return 0, err
			}
			if stored != nil && stored.Length == 0 {
				stored.Length = h.QuerySize
			}
			records[name] = stored
			r = stored
		}
		if r != nil {
			h.Query = r
		}
	}

	var found int
	for _, r := range records {
		if r != nil {
			found++
		}
	}
	return found, nil
}
