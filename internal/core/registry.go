package core

import (
	"fmt"
	"sort"
	"sync"
)

// KindField is one canonical field as used by a kind.
type KindField struct {
	Field    Field
	Required bool
	Link     bool // identifies the owning customer (contracts only)
}

// KindDefinition describes an entity kind and the canonical fields it accepts.
type KindDefinition struct {
	Kind   EntityKind
	Label  string
	Fields []KindField
}

// Accepts reports whether f is one of the kind's fields.
func (d KindDefinition) Accepts(f Field) bool {
	for _, kf := range d.Fields {
		if kf.Field == f {
			return true
		}
	}
	return false
}

var (
	registry   = make(map[EntityKind]KindDefinition)
	registryMu sync.RWMutex
)

// Register adds a kind definition to the registry.
// Panics if the kind is already registered or uses an unknown field.
func Register(def KindDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("kind already registered: %s", def.Kind))
	}
	for _, kf := range def.Fields {
		if _, ok := fieldCatalog[kf.Field]; !ok {
			panic(fmt.Sprintf("kind %s uses unknown field %s", def.Kind, kf.Field))
		}
	}

	registry[def.Kind] = def
}

// Get returns a kind definition.
// Returns false if not found.
func Get(kind EntityKind) (KindDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[kind]
	return def, ok
}

// All returns all registered kind definitions, customers before contracts.
func All() []KindDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]KindDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		ci, cj := result[i].Kind.IsCustomer(), result[j].Kind.IsCustomer()
		if ci != cj {
			return ci
		}
		return result[i].Kind < result[j].Kind
	})

	return result
}

// ParseEntityKind resolves a kind name or one of the record-type synonyms.
func ParseEntityKind(s string) (EntityKind, bool) {
	if _, ok := Get(EntityKind(s)); ok {
		return EntityKind(s), true
	}
	if k, ok := recordTypeVocab[FoldHeader(s)]; ok {
		return k, true
	}
	return KindUnknown, false
}

// SupportedField is one field of a SupportedType.
type SupportedField struct {
	Name     Field    `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Link     bool     `json:"link,omitempty"`
	Aliases  []string `json:"aliases"`
	Values   []string `json:"values,omitempty"`
}

// SupportedType describes a kind for callers building a column-mapping UI.
type SupportedType struct {
	Kind   EntityKind       `json:"kind"`
	Label  string           `json:"label"`
	Fields []SupportedField `json:"fields"`
}

// SupportedTypes lists every registered kind with its canonical fields.
func SupportedTypes() []SupportedType {
	defs := All()
	out := make([]SupportedType, 0, len(defs))
	for _, def := range defs {
		st := SupportedType{Kind: def.Kind, Label: def.Label}
		for _, kf := range def.Fields {
			spec := fieldCatalog[kf.Field]
			sf := SupportedField{
				Name:     kf.Field,
				Type:     spec.Type.String(),
				Required: kf.Required,
				Link:     kf.Link,
				Aliases:  FieldAliases[kf.Field],
			}
			if spec.Type == FieldEnum {
				sf.Values = enumValues(spec)
			}
			st.Fields = append(st.Fields, sf)
		}
		out = append(out, st)
	}
	return out
}

func enumValues(spec FieldSpec) []string {
	seen := make(map[string]bool)
	var vals []string
	for _, v := range spec.EnumValues {
		if !seen[v] {
			seen[v] = true
			vals = append(vals, v)
		}
	}
	sort.Strings(vals)
	return vals
}
