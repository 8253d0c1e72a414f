package services

// ExclusionSet holds the user ids a directory search must never return.
// It is built per request and never persisted.
type ExclusionSet map[string]struct{}

func NewExclusionSet(ids ...string) ExclusionSet {
	set := make(ExclusionSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (e ExclusionSet) Add(id string) {
	if id != "" {
		e[id] = struct{}{}
	}
}

// Contains is safe on a nil set.
func (e ExclusionSet) Contains(id string) bool {
	_, ok := e[id]
	return ok
}

func (e ExclusionSet) Len() int {
	return len(e)
}
