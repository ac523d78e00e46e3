package paramstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/japaniel/kinenrich/pkg/db"
)

// DefaultCompatibility returns the seed table: close mammals high, across phyla lower,
// across kingdoms lowest. Every pair is present in both directions.
func DefaultCompatibility() []db.Compatibility {
	pairs := []db.Compatibility{
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Mus musculus", Score: 0.85, Rationale: "mammals, conserved core metabolism"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Rattus norvegicus", Score: 0.85, Rationale: "mammals, conserved core metabolism"},
		{SourceOrganism: "Mus musculus", TargetOrganism: "Rattus norvegicus", Score: 0.9, Rationale: "rodents"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Bos taurus", Score: 0.8, Rationale: "mammals"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Danio rerio", Score: 0.65, Rationale: "vertebrates"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Drosophila melanogaster", Score: 0.55, Rationale: "animals, different phyla"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Saccharomyces cerevisiae", Score: 0.5, Rationale: "eukaryotes, different kingdoms"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Escherichia coli", Score: 0.4, Rationale: "eukaryote versus prokaryote"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Arabidopsis thaliana", Score: 0.4, Rationale: "animal versus plant"},
		{SourceOrganism: "Saccharomyces cerevisiae", TargetOrganism: "Escherichia coli", Score: 0.45, Rationale: "unicellular, cross-domain"},
		{SourceOrganism: "Escherichia coli", TargetOrganism: "Bacillus subtilis", Score: 0.7, Rationale: "bacteria"},
		// glycolysis and other transferases are highly conserved across kingdoms
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Saccharomyces cerevisiae", EnzymeClass: "2", Score: 0.6, Rationale: "conserved transferases"},
		{SourceOrganism: "Homo sapiens", TargetOrganism: "Escherichia coli", EnzymeClass: "2", Score: 0.5, Rationale: "conserved transferases"},
	}
	out := make([]db.Compatibility, 0, 2*len(pairs))
	for _, p := range pairs {
		out = append(out, p)
		rev := p
		rev.SourceOrganism, rev.TargetOrganism = p.TargetOrganism, p.SourceOrganism
		out = append(out, rev)
	}
	return out
}

func (s *Store) seedCompatibility(ctx context.Context, seed []db.Compatibility) error {
	if len(seed) == 0 {
		return nil
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, c := range seed {
			if c.Score < 0 || c.Score > 1 {
				return fmt.Errorf("seed %s -> %s: %w", c.SourceOrganism, c.TargetOrganism, ErrInvalidConfidence)
			}
			if err := db.SeedCompatibility(tx, c); err != nil {
				return fmt.Errorf("seed compatibility: %w", err)
			}
		}
		return nil
	})
}

// Compatibility scores how well parameters measured in source transfer to target. Identical
// organisms score 1. A class-specific entry beats a class-agnostic one; with neither, the
// fallback score is returned and a warning logged. An empty target means no organism
// constraint and scores 1.
func (s *Store) Compatibility(ctx context.Context, source, target, enzymeClass string) (float64, error) {
	return s.compatibilityOn(s.db, source, target, enzymeClass)
}

func (s *Store) compatibilityOn(exec db.DBExecutor, source, target, enzymeClass string) (float64, error) {
	src, dst := normalizeOrganism(source), normalizeOrganism(target)
	if dst == "" || src == dst {
		return 1, nil
	}
	classes := []string{""}
	if c := strings.TrimSpace(enzymeClass); c != "" {
		classes = []string{c, ""}
	}
	for _, class := range classes {
		c, err := db.GetCompatibility(exec, strings.TrimSpace(source), strings.TrimSpace(target), class)
		if err == nil {
			return c.Score, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return 0, fmt.Errorf("compatibility lookup: %w", err)
		}
	}
	s.log.Warn("no compatibility entry, using fallback", "source", source, "target", target,
		"enzyme_class", enzymeClass, "score", s.fallback)
	return s.fallback, nil
}

// SetCompatibility inserts or replaces an entry in both directions.
func (s *Store) SetCompatibility(ctx context.Context, c db.Compatibility) error {
	if c.Score < 0 || c.Score > 1 {
		return fmt.Errorf("compatibility %v: %w", c.Score, ErrInvalidConfidence)
	}
	if strings.TrimSpace(c.SourceOrganism) == "" || strings.TrimSpace(c.TargetOrganism) == "" {
		return fmt.Errorf("compatibility needs both organisms: %w", ErrInvalidRecord)
	}
	c.SourceOrganism = strings.TrimSpace(c.SourceOrganism)
	c.TargetOrganism = strings.TrimSpace(c.TargetOrganism)
	c.EnzymeClass = strings.TrimSpace(c.EnzymeClass)
	rev := c
	rev.SourceOrganism, rev.TargetOrganism = c.TargetOrganism, c.SourceOrganism
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if err := db.UpsertCompatibility(tx, c); err != nil {
			return err
		}
		return db.UpsertCompatibility(tx, rev)
	})
}
