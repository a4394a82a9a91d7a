package graph

import "github.com/dd0wney/malaphor/pkg/events"

// Entity is a distinct actor or resource seen as either endpoint of an event.
type Entity struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Index int    `json:"node_index"`
}

// TypeConflict records an id that appeared with more than one type. The
// entity keeps the first type seen.
type TypeConflict struct {
	ID   string `json:"id"`
	Kept string `json:"kept"`
	Seen string `json:"seen"`
}

// EntityIndex assigns every entity a stable index in [0, N).
//
// Indices follow first sighting across all source appearances in row order,
// followed by all target appearances in row order. The index is an ordered
// map: a slice carries the order, a map carries lookup. It is immutable once
// built.
type EntityIndex struct {
	entities  []Entity
	byID      map[string]int
	types     []string
	typeCode  map[string]int
	conflicts []TypeConflict
}

// NewEntityIndex builds the index for an event table. Events are assumed to
// be validated.
func NewEntityIndex(evs []events.Event) *EntityIndex {
	idx := &EntityIndex{
		byID:     make(map[string]int, len(evs)),
		typeCode: make(map[string]int),
	}
	for i := range evs {
		idx.add(evs[i].SourceID, evs[i].SourceType)
	}
	for i := range evs {
		idx.add(evs[i].TargetID, evs[i].TargetType)
	}
	return idx
}

func (x *EntityIndex) add(id, typ string) {
	if i, ok := x.byID[id]; ok {
		if kept := x.entities[i].Type; kept != typ {
			x.conflicts = append(x.conflicts, TypeConflict{ID: id, Kept: kept, Seen: typ})
		}
		return
	}

	i := len(x.entities)
	x.entities = append(x.entities, Entity{ID: id, Type: typ, Index: i})
	x.byID[id] = i
	if _, ok := x.typeCode[typ]; !ok {
		x.typeCode[typ] = len(x.types)
		x.types = append(x.types, typ)
	}
}

// Len returns the number of entities.
func (x *EntityIndex) Len() int {
	return len(x.entities)
}

// Entity returns the entity at index i.
func (x *EntityIndex) Entity(i int) Entity {
	return x.entities[i]
}

// Entities returns every entity in index order. The slice is a copy.
func (x *EntityIndex) Entities() []Entity {
	out := make([]Entity, len(x.entities))
	copy(out, x.entities)
	return out
}

// IndexOf looks up the index of an entity id.
func (x *EntityIndex) IndexOf(id string) (int, bool) {
	i, ok := x.byID[id]
	return i, ok
}

// IDOf returns the id of the entity at index i.
func (x *EntityIndex) IDOf(i int) string {
	return x.entities[i].ID
}

// TypeOf returns the type of the entity at index i.
func (x *EntityIndex) TypeOf(i int) string {
	return x.entities[i].Type
}

// IDToIndex returns a copy of the id to index mapping.
func (x *EntityIndex) IDToIndex() map[string]int {
	out := make(map[string]int, len(x.byID))
	for id, i := range x.byID {
		out[id] = i
	}
	return out
}

// IndexToID returns entity ids ordered by index.
func (x *EntityIndex) IndexToID() []string {
	out := make([]string, len(x.entities))
	for i, e := range x.entities {
		out[i] = e.ID
	}
	return out
}

// TypeVocabulary returns the distinct entity types in first-seen order. A
// type's position is its code.
func (x *EntityIndex) TypeVocabulary() []string {
	out := make([]string, len(x.types))
	copy(out, x.types)
	return out
}

// TypeCode returns the zero-based code of an entity type.
func (x *EntityIndex) TypeCode(typ string) (int, bool) {
	c, ok := x.typeCode[typ]
	return c, ok
}

// Conflicts lists ids seen with a type other than the one they kept.
func (x *EntityIndex) Conflicts() []TypeConflict {
	return x.conflicts
}
