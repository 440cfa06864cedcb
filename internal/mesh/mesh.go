// Package mesh maintains the interest mesh: the union of 4-character CPV
// prefixes across every service profile. Ingestion consults it to decide
// which notices are worth enriching at all.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// CodeSource supplies the CPV code lists the mesh is built from.
type CodeSource interface {
	ListProfileCPVCodes(ctx context.Context) ([][]string, error)
}

// Mesh is a lazily built, atomically swapped prefix set. Safe for
// concurrent use; Invalidate forces a rebuild on the next lookup.
type Mesh struct {
	source   CodeSource
	logger   *slog.Logger
	snapshot atomic.Pointer[prefixSet]
}

type prefixSet map[string]struct{}

// New creates a mesh backed by the given source. The first lookup builds it.
func New(source CodeSource, logger *slog.Logger) *Mesh {
	return &Mesh{source: source, logger: logger}
}

// Matches reports whether a notice with the given CPV codes intersects the
// mesh. Notices without CPV codes always pass so they are not silently
// dropped before enrichment. An empty mesh (no profiles yet) passes
// everything.
func (m *Mesh) Matches(ctx context.Context, cpvCodes []string) (bool, error) {
	if len(cpvCodes) == 0 {
		return true, nil
	}

	set, err := m.current(ctx)
	if err != nil {
		return false, err
	}
	if len(set) == 0 {
		return true, nil
	}

	for _, code := range cpvCodes {
		if _, ok := set[Prefix(code)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate discards the snapshot. The next Matches call rebuilds it.
// Call after creating or updating service profiles.
func (m *Mesh) Invalidate() {
	m.snapshot.Store(nil)
}

// Refresh rebuilds the snapshot immediately.
func (m *Mesh) Refresh(ctx context.Context) error {
	_, err := m.rebuild(ctx)
	return err
}

func (m *Mesh) current(ctx context.Context) (prefixSet, error) {
	if set := m.snapshot.Load(); set != nil {
		return *set, nil
	}
	return m.rebuild(ctx)
}

func (m *Mesh) rebuild(ctx context.Context) (prefixSet, error) {
	lists, err := m.source.ListProfileCPVCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("mesh: rebuild: %w", err)
	}

	set := make(prefixSet)
	for _, codes := range lists {
		for _, code := range codes {
			if p := Prefix(code); p != "" {
				set[p] = struct{}{}
			}
		}
	}

	m.snapshot.Store(&set)
	m.logger.Debug("interest mesh rebuilt", "prefixes", len(set))
	return set, nil
}

// Prefix returns the 4-character sector prefix of a CPV code. Codes shorter
// than 4 characters are returned as-is; empty input yields empty output.
func Prefix(code string) string {
	if len(code) > 4 {
		return code[:4]
	}
	return code
}
