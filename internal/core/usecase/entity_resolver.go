package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/Autopsias/raglite/internal/core/domain"
	"github.com/Autopsias/raglite/internal/core/ports"
)

const tokenSubsetConfidence = 0.8

type entityName struct {
	entityID string
	folded   string
}

// entityIndex is an immutable snapshot of the reference list. Readers load it
// through an atomic pointer; writers build a new one and swap it in.
type entityIndex struct {
	entities      map[string]domain.Entity
	order         []string
	names         []entityName
	exact         map[string][]string
	nameTokens    map[string]map[string]struct{}
	vocabulary    map[string]struct{}
	maxNameTokens int
}

// EntityResolver maps free-text mentions to canonical entity ids.
type EntityResolver struct {
	fuzzyThreshold  float64
	ambiguityMargin float64

	catalog ports.EntityCatalogWriter
	writeMu sync.Mutex
	index   atomic.Pointer[entityIndex]
}

type EntityResolverOption func(*EntityResolver)

// WithCatalogWriter persists every accepted alias before it becomes visible.
func WithCatalogWriter(w ports.EntityCatalogWriter) EntityResolverOption {
	return func(r *EntityResolver) { r.catalog = w }
}

func NewEntityResolver(entities []domain.Entity, policy RetrievalPolicy, opts ...EntityResolverOption) (*EntityResolver, error) {
	policy = policy.withDefaults()
	r := &EntityResolver{
		fuzzyThreshold:  policy.FuzzyThreshold,
		ambiguityMargin: policy.AmbiguityMargin,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Replace(entities); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates and atomically installs a new reference list.
func (r *EntityResolver) Replace(entities []domain.Entity) error {
	if err := ValidateEntities(entities); err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.index.Store(buildEntityIndex(entities))
	return nil
}

// AddAlias appends an alias to an entity without blocking concurrent reads.
// With a catalog writer the alias is stored first and a failed write leaves
// the resolver unchanged.
func (r *EntityResolver) AddAlias(ctx context.Context, entityID, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" || foldText(alias) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "add alias", fmt.Errorf("alias is empty"))
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.index.Load()
	if _, ok := current.entities[entityID]; !ok {
		return domain.WrapError(domain.ErrEntityNotFound, "add alias", fmt.Errorf("entity %q", entityID))
	}
	if owners, ok := current.exact[foldText(alias)]; ok {
		if lo.Contains(owners, entityID) {
			return nil
		}
		return domain.WrapError(domain.ErrInvalidInput, "add alias", fmt.Errorf("alias %q already names %s", alias, strings.Join(owners, ",")))
	}

	next := make([]domain.Entity, 0, len(current.order))
	for _, id := range current.order {
		e := current.entities[id]
		e.Aliases = append([]string(nil), e.Aliases...)
		if id == entityID {
			e.Aliases = append(e.Aliases, alias)
		}
		next = append(next, e)
	}
	if r.catalog != nil {
		if err := r.catalog.SaveEntities(ctx, next); err != nil {
			return fmt.Errorf("persist alias: %w", err)
		}
	}
	r.index.Store(buildEntityIndex(next))
	return nil
}

func (r *EntityResolver) Entity(id string) (domain.Entity, bool) {
	e, ok := r.index.Load().entities[id]
	return e, ok
}

func (r *EntityResolver) Entities() []domain.Entity {
	idx := r.index.Load()
	out := make([]domain.Entity, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.entities[id])
	}
	return out
}

// LookupExact matches a label against canonical names and aliases only.
func (r *EntityResolver) LookupExact(label string) (domain.EntityCandidate, bool) {
	idx := r.index.Load()
	owners := idx.exact[foldText(label)]
	if len(owners) != 1 {
		return domain.EntityCandidate{}, false
	}
	e := idx.entities[owners[0]]
	return domain.EntityCandidate{EntityID: e.ID, Name: e.CanonicalName, Confidence: 1, Tier: domain.MatchExact}, true
}

// Resolve runs the three matching tiers against a single mention.
func (r *EntityResolver) Resolve(mention string) domain.Resolution {
	return r.resolve(r.index.Load(), mention)
}

func (r *EntityResolver) resolve(idx *entityIndex, mention string) domain.Resolution {
	res := domain.Resolution{Mention: mention, Status: domain.Unresolved}
	folded := foldText(mention)
	if folded == "" {
		return res
	}

	if owners, ok := idx.exact[folded]; ok {
		for _, id := range owners {
			e := idx.entities[id]
			res.Candidates = append(res.Candidates, domain.EntityCandidate{
				EntityID: id, Name: e.CanonicalName, Confidence: 1, Tier: domain.MatchExact,
			})
		}
		return r.finish(res)
	}

	best := make(map[string]domain.EntityCandidate)
	offer := func(c domain.EntityCandidate) {
		if prev, ok := best[c.EntityID]; ok && prev.Confidence >= c.Confidence {
			return
		}
		best[c.EntityID] = c
	}

	mentionTokens := significantTokens(strings.Fields(folded))
	if len(mentionTokens) > 0 {
		for _, id := range idx.order {
			canonical := idx.nameTokens[id]
			if lo.EveryBy(mentionTokens, func(tok string) bool { _, ok := canonical[tok]; return ok }) {
				offer(domain.EntityCandidate{
					EntityID: id, Name: idx.entities[id].CanonicalName,
					Confidence: tokenSubsetConfidence, Tier: domain.MatchTokenSubset,
				})
			}
		}
	}

	for _, name := range idx.names {
		score := similarity(folded, name.folded)
		if score < r.fuzzyThreshold {
			continue
		}
		offer(domain.EntityCandidate{
			EntityID: name.entityID, Name: idx.entities[name.entityID].CanonicalName,
			Confidence: score, Tier: domain.MatchFuzzy,
		})
	}

	res.Candidates = lo.Values(best)
	return r.finish(res)
}

func (r *EntityResolver) finish(res domain.Resolution) domain.Resolution {
	if len(res.Candidates) == 0 {
		res.Status = domain.Unresolved
		return res
	}
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.EntityID < b.EntityID
	})
	res.Status = domain.Resolved
	if len(res.Candidates) > 1 && res.Candidates[0].Confidence-res.Candidates[1].Confidence <= r.ambiguityMargin+1e-9 {
		res.Status = domain.Ambiguous
	}
	return res
}

// Similarity scores two entity strings: 1.0 when both resolve to the same
// entity, otherwise the normalized edit-distance similarity.
func (r *EntityResolver) Similarity(a, b string) float64 {
	idx := r.index.Load()
	ra, rb := r.resolve(idx, a), r.resolve(idx, b)
	if ba, ok := ra.Best(); ok {
		if bb, ok := rb.Best(); ok && ba.EntityID == bb.EntityID {
			return 1
		}
	}
	return similarity(foldText(a), foldText(b))
}

// FindMentions scans folded query tokens for entity mentions. Empty tokens
// act as separators and are never part of a mention.
func (r *EntityResolver) FindMentions(tokens []string) []domain.Resolution {
	idx := r.index.Load()
	consumed := make([]bool, len(tokens))
	type found struct {
		pos int
		res domain.Resolution
	}
	hits := make([]found, 0, 2)

	for i := 0; i < len(tokens); i++ {
		if tokens[i] == "" {
			continue
		}
		for width := min(idx.maxNameTokens, len(tokens)-i); width >= 1; width-- {
			window := tokens[i : i+width]
			if lo.Contains(window, "") {
				continue
			}
			phrase := strings.Join(window, " ")
			if _, ok := idx.exact[phrase]; !ok {
				continue
			}
			hits = append(hits, found{pos: i, res: r.resolve(idx, phrase)})
			for k := i; k < i+width; k++ {
				consumed[k] = true
			}
			i += width - 1
			break
		}
	}

	for i := 0; i < len(tokens); {
		if consumed[i] || !r.isEntityToken(idx, tokens[i]) {
			i++
			continue
		}
		start := i
		for i < len(tokens) && !consumed[i] && r.isEntityToken(idx, tokens[i]) {
			i++
		}
		mention := strings.Join(tokens[start:i], " ")
		res := r.resolve(idx, mention)
		if res.Status != domain.Unresolved {
			hits = append(hits, found{pos: start, res: res})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]domain.Resolution, 0, len(hits))
	seen := make(map[string]struct{})
	for _, h := range hits {
		key := string(h.res.Status) + "|" + strings.Join(lo.Map(h.res.Candidates, func(c domain.EntityCandidate, _ int) string { return c.EntityID }), ",")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h.res)
	}
	return out
}

func (r *EntityResolver) isEntityToken(idx *entityIndex, tok string) bool {
	if tok == "" {
		return false
	}
	if _, stop := stopwords[tok]; stop {
		return false
	}
	if _, ok := idx.vocabulary[tok]; ok {
		return true
	}
	if len([]rune(tok)) < 5 {
		return false
	}
	for v := range idx.vocabulary {
		if similarity(tok, v) >= r.fuzzyThreshold {
			return true
		}
	}
	return false
}

// ValidateEntities checks the reference tree: unique ids, exactly one root
// group, known parents and no cycles.
func ValidateEntities(entities []domain.Entity) error {
	const op = "validate entities"
	if len(entities) == 0 {
		return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("entity list is empty"))
	}

	byID := make(map[string]domain.Entity, len(entities))
	roots := 0
	for _, e := range entities {
		if strings.TrimSpace(e.ID) == "" || foldText(e.CanonicalName) == "" {
			return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("entity %q has empty id or name", e.ID))
		}
		if _, dup := byID[e.ID]; dup {
			return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("duplicate entity id %q", e.ID))
		}
		byID[e.ID] = e
		if e.ParentID == "" {
			roots++
			if e.Kind != domain.EntityGroup {
				return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("root entity %q must be a group", e.ID))
			}
		}
	}
	if roots != 1 {
		return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("expected exactly one root group, found %d", roots))
	}

	for _, e := range entities {
		seen := map[string]struct{}{e.ID: {}}
		for parent := e.ParentID; parent != ""; {
			p, ok := byID[parent]
			if !ok {
				return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("entity %q references unknown parent %q", e.ID, parent))
			}
			if _, loop := seen[p.ID]; loop {
				return domain.WrapError(domain.ErrInvalidReference, op, fmt.Errorf("cycle through entity %q", e.ID))
			}
			seen[p.ID] = struct{}{}
			parent = p.ParentID
		}
	}
	return nil
}

func buildEntityIndex(entities []domain.Entity) *entityIndex {
	idx := &entityIndex{
		entities:   make(map[string]domain.Entity, len(entities)),
		exact:      make(map[string][]string),
		nameTokens: make(map[string]map[string]struct{}, len(entities)),
		vocabulary: make(map[string]struct{}),
	}
	for _, e := range entities {
		idx.entities[e.ID] = e
		idx.order = append(idx.order, e.ID)

		canonical := make(map[string]struct{})
		for _, tok := range foldTokens(e.CanonicalName) {
			canonical[tok] = struct{}{}
		}
		idx.nameTokens[e.ID] = canonical

		for _, name := range append([]string{e.CanonicalName}, e.Aliases...) {
			folded := foldText(name)
			if folded == "" {
				continue
			}
			idx.names = append(idx.names, entityName{entityID: e.ID, folded: folded})
			if !lo.Contains(idx.exact[folded], e.ID) {
				idx.exact[folded] = append(idx.exact[folded], e.ID)
			}
			toks := strings.Fields(folded)
			idx.maxNameTokens = max(idx.maxNameTokens, len(toks))
			for _, tok := range significantTokens(toks) {
				idx.vocabulary[tok] = struct{}{}
			}
		}
	}
	sort.Strings(idx.order)
	for k := range idx.exact {
		sort.Strings(idx.exact[k])
	}
	return idx
}
