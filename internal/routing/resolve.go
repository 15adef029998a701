package routing

import "fmt"

// DefaultPath is the conventional landing route for "/"
const DefaultPath = "/home/index"

// Resolver is one fallback rule: a pure function from a normalized path and
// the table to an optional match.
type Resolver func(path string, t *Table) (*Route, bool)

// DefaultResolvers is the cascading fallback order. The first match wins.
var DefaultResolvers = []Resolver{
	ResolveExact,
	ResolveRoot,
	ResolveIndexSuffix,
	ResolveSingleSegment,
	ResolveAreaDefault,
}

// ResolveExact matches the normalized path as-is
func ResolveExact(path string, t *Table) (*Route, bool) {
	return t.Lookup(path)
}

// ResolveRoot maps "/" to /home/index, else to the first registered route
func ResolveRoot(path string, t *Table) (*Route, bool) {
	if path != "/" {
		return nil, false
	}
	if r, ok := t.Lookup(DefaultPath); ok {
		return r, true
	}
	return t.First()
}

// ResolveIndexSuffix retries with "/index" appended (bare controller URLs)
func ResolveIndexSuffix(path string, t *Table) (*Route, bool) {
	if path == "/" {
		return nil, false
	}
	return t.Lookup(path + "/index")
}

// ResolveSingleSegment retries a one-segment path as /{segment}/index
func ResolveSingleSegment(path string, t *Table) (*Route, bool) {
	segs := Segments(path)
	if len(segs) != 1 {
		return nil, false
	}
	return t.Lookup("/" + segs[0] + "/index")
}

// ResolveAreaDefault retries a multi-segment path as /{segment0}/{segment1}/index
func ResolveAreaDefault(path string, t *Table) (*Route, bool) {
	segs := Segments(path)
	if len(segs) < 2 {
		return nil, false
	}
	return t.Lookup("/" + segs[0] + "/" + segs[1] + "/index")
}

// NotFoundError reports a path that no resolver matched
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no route matches '%s'", e.Path)
}

// Resolve runs the resolvers in order against the normalized form of p.
// A nil resolver list uses DefaultResolvers.
func Resolve(p string, t *Table, resolvers []Resolver) (*Route, error) {
	if resolvers == nil {
		resolvers = DefaultResolvers
	}
	norm := Normalize(p)
	for _, resolve := range resolvers {
		if r, ok := resolve(norm, t); ok {
			return r, nil
		}
	}
	return nil, &NotFoundError{Path: p}
}
