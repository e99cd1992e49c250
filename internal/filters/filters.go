package filters

import (
	"sort"
	"strings"
	"time"
)

// Facet identifies one filterable dimension of talk search. Filter chips in
// consuming UIs carry the facet identifier alongside the selected option so
// removal never relies on display-text matching.
type Facet string

const (
	FacetSpeaker    Facet = "speaker"
	FacetConference Facet = "conference"
	FacetConfType   Facet = "conference_type"
	FacetBook       Facet = "book"
	FacetYear       Facet = "year"
	FacetCollection Facet = "collection"
)

// Facets lists all known facets in display order.
func Facets() []Facet {
	return []Facet{
		FacetSpeaker,
		FacetConference,
		FacetConfType,
		FacetBook,
		FacetYear,
		FacetCollection,
	}
}

// ParseFacet resolves a user-entered facet name.
func ParseFacet(name string) (Facet, bool) {
	key := Facet(strings.ToLower(strings.TrimSpace(name)))
	for _, facet := range Facets() {
		if facet == key {
			return facet, true
		}
	}
	return "", false
}

// TriState is an explicit three-value flag. Unset means "no filter", not
// "filter for false".
type TriState int

const (
	TriUnset TriState = iota
	TriYes
	TriNo
)

func (t TriState) String() string {
	switch t {
	case TriYes:
		return "yes"
	case TriNo:
		return "no"
	default:
		return "unset"
	}
}

// ParseTriState resolves a user-entered tri-state value.
func ParseTriState(value string) (TriState, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "y":
		return TriYes, true
	case "no", "false", "n":
		return TriNo, true
	case "unset", "any", "":
		return TriUnset, true
	}
	return TriUnset, false
}

// TalkSearchFilters captures the full filter selection state. An absent facet
// key and an empty selection set are both no-filter states.
type TalkSearchFilters struct {
	Query         string
	Selections    map[Facet]map[string]struct{}
	FromDate      *time.Time
	ToDate        *time.Time
	HasTranscript TriState
	IsDownloaded  TriState
}

// New returns an empty filter state.
func New() TalkSearchFilters {
	return TalkSearchFilters{Selections: make(map[Facet]map[string]struct{})}
}

// Select adds an option to a facet's selection set.
func (f *TalkSearchFilters) Select(facet Facet, option string) {
	option = strings.TrimSpace(option)
	if option == "" {
		return
	}
	if f.Selections == nil {
		f.Selections = make(map[Facet]map[string]struct{})
	}
	set := f.Selections[facet]
	if set == nil {
		set = make(map[string]struct{})
		f.Selections[facet] = set
	}
	set[option] = struct{}{}
}

// Deselect removes a single option from a facet's selection set.
func (f *TalkSearchFilters) Deselect(facet Facet, option string) {
	set := f.Selections[facet]
	if set == nil {
		return
	}
	delete(set, strings.TrimSpace(option))
}

// ClearFacet empties one facet without touching any other facet.
func (f *TalkSearchFilters) ClearFacet(facet Facet) {
	if f.Selections == nil {
		return
	}
	delete(f.Selections, facet)
}

// Clear resets the whole filter state.
func (f *TalkSearchFilters) Clear() {
	*f = New()
}

// Selected returns the sorted options selected for a facet.
func (f TalkSearchFilters) Selected(facet Facet) []string {
	set := f.Selections[facet]
	if len(set) == 0 {
		return nil
	}
	options := make([]string, 0, len(set))
	for option := range set {
		options = append(options, option)
	}
	sort.Strings(options)
	return options
}

// ActiveFacets returns the facets that currently constrain results.
func (f TalkSearchFilters) ActiveFacets() []Facet {
	active := make([]Facet, 0, len(f.Selections))
	for _, facet := range Facets() {
		if len(f.Selections[facet]) > 0 {
			active = append(active, facet)
		}
	}
	return active
}

// IsZero reports whether no filtering is in effect at all.
func (f TalkSearchFilters) IsZero() bool {
	if strings.TrimSpace(f.Query) != "" {
		return false
	}
	for _, set := range f.Selections {
		if len(set) > 0 {
			return false
		}
	}
	return f.FromDate == nil && f.ToDate == nil &&
		f.HasTranscript == TriUnset && f.IsDownloaded == TriUnset
}

// Clone returns a deep copy, so callers can mutate snapshots independently.
func (f TalkSearchFilters) Clone() TalkSearchFilters {
	clone := f
	clone.Selections = make(map[Facet]map[string]struct{}, len(f.Selections))
	for facet, set := range f.Selections {
		copied := make(map[string]struct{}, len(set))
		for option := range set {
			copied[option] = struct{}{}
		}
		clone.Selections[facet] = copied
	}
	if f.FromDate != nil {
		from := *f.FromDate
		clone.FromDate = &from
	}
	if f.ToDate != nil {
		to := *f.ToDate
		clone.ToDate = &to
	}
	return clone
}

// Equal compares two filter states, treating absent and empty facet sets as
// the same.
func (f TalkSearchFilters) Equal(other TalkSearchFilters) bool {
	if strings.TrimSpace(f.Query) != strings.TrimSpace(other.Query) {
		return false
	}
	if f.HasTranscript != other.HasTranscript || f.IsDownloaded != other.IsDownloaded {
		return false
	}
	if !timeEqual(f.FromDate, other.FromDate) || !timeEqual(f.ToDate, other.ToDate) {
		return false
	}
	for _, facet := range Facets() {
		a := f.Selections[facet]
		b := other.Selections[facet]
		if len(a) != len(b) {
			return false
		}
		for option := range a {
			if _, ok := b[option]; !ok {
				return false
			}
		}
	}
	return true
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
