package relations

import "sort"

// Table maps a relation type to the type expected on the opposite edge.
//
// Lookups are exact and case-sensitive. A type without an entry is its own
// inverse: unknown vocabulary is treated as a symmetric relation rather than
// rejected. Every entry satisfies Inverse(Inverse(t)) == t. Alternative
// labels are aliases resolved by Canonical before any lookup.
type Table struct {
	name     string
	inverses map[string]string
	aliases  map[string]string
}

// NewTable copies pairs into an immutable table
func NewTable(name string, pairs map[string]string) Table {
	inverses := make(map[string]string, len(pairs))
	for k, v := range pairs {
		inverses[k] = v
	}
	return Table{name: name, inverses: inverses}
}

// WithAliases returns a copy of t that resolves each alias to its canonical
// type
func (t Table) WithAliases(aliases map[string]string) Table {
	copied := make(map[string]string, len(aliases))
	for k, v := range aliases {
		copied[k] = v
	}
	t.aliases = copied
	return t
}

// Canonical returns the type an alias stands for, or relType itself
func (t Table) Canonical(relType string) string {
	if canonical, ok := t.aliases[relType]; ok {
		return canonical
	}
	return relType
}

// Name returns the catalog the table belongs to
func (t Table) Name() string {
	return t.name
}

// Inverse returns the declared inverse of the canonical form of relType, or
// that canonical form itself
func (t Table) Inverse(relType string) string {
	relType = t.Canonical(relType)
	if inv, ok := t.inverses[relType]; ok {
		return inv
	}
	return relType
}

// Symmetric reports whether relType is its own inverse
func (t Table) Symmetric(relType string) bool {
	return t.Inverse(relType) == relType
}

// Known reports whether relType has an explicit table entry or alias
func (t Table) Known(relType string) bool {
	_, ok := t.inverses[t.Canonical(relType)]
	return ok
}

// Types returns the explicitly mapped types in sorted order
func (t Table) Types() []string {
	types := make([]string, 0, len(t.inverses))
	for k := range t.inverses {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Characters holds the character-to-character vocabulary
var Characters = NewTable("characters", map[string]string{
	"Freund":  "Freund",
	"Feind":   "Feind",
	"Familie": "Familie",
	"Liebe":   "Liebe",
	"Kollege": "Kollege",
	"Kennt":   "Kennt",
	"Mentor":  "Schüler",
	"Schüler": "Mentor",
}).WithAliases(map[string]string{
	// UI label for the student side
	"Schützling": "Schüler",
})

// WorldItems holds the world-item-to-world-item vocabulary
var WorldItems = NewTable("world_items", map[string]string{
	"Teil von":         "Hat Teil",
	"Hat Teil":         "Teil von",
	"Ort in":           "Beherbergt",
	"Beherbergt":       "Ort in",
	"Regiert":          "Wird regiert von",
	"Wird regiert von": "Regiert",
	"Hauptstadt von":   "Hat Hauptstadt",
	"Hat Hauptstadt":   "Hauptstadt von",
	"Mitglied von":     "Hat Mitglied",
	"Hat Mitglied":     "Mitglied von",
	"Übergeordnet":     "Untergeordnet",
	"Untergeordnet":    "Übergeordnet",
	"Verbündet":        "Verbündet",
	"Konkurriert":      "Konkurriert",
	"Handelt mit":      "Handelt mit",
})
