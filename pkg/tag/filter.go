package tag

import (
	"github.com/mitchellh/mapstructure"
	"k8s.io/klog/v2"
	"sort"
	"strings"

	"s7panel/pkg/runtime/constant"
)

type LessFunc func(t1, t2 *Tag) bool

var (
	ByName LessFunc = func(t1, t2 *Tag) bool { return t1.Name < t2.Name }

	// ByAddress orders by area, block, byte and bit.
	ByAddress LessFunc = func(t1, t2 *Tag) bool {
		a, b := t1.Address, t2.Address
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.ByteOffset != b.ByteOffset {
			return a.ByteOffset < b.ByteOffset
		}
		return a.BitOffset < b.BitOffset
	}
)

// SortBy maps the sort query value to its ordering.
var SortBy = map[string]LessFunc{
	"name":    ByName,
	"address": ByAddress,
}

type tagSorter struct {
	ts        []*Tag
	lessFuncs []LessFunc
}

func By(less ...LessFunc) *tagSorter {
	return &tagSorter{
		lessFuncs: less,
	}
}

func (ms *tagSorter) Sort(ts []*Tag) {
	ms.ts = ts
	sort.Stable(ms)
}

func (ms *tagSorter) Len() int {
	return len(ms.ts)
}

func (ms *tagSorter) Swap(i, j int) {
	ms.ts[i], ms.ts[j] = ms.ts[j], ms.ts[i]
}

func (ms *tagSorter) Less(i, j int) bool {
	return ms.less(ms.ts[i], ms.ts[j])
}

func (ms *tagSorter) less(p, q *Tag) bool {
	// Try all but the last comparison.
	var k int
	for k = 0; k < len(ms.lessFuncs)-1; k++ {
		less := ms.lessFuncs[k]
		switch {
		case less(p, q):
			return true
		case less(q, p):
			return false
		}
	}
	return ms.lessFuncs[k](p, q)
}

type NameFilterFunc struct {
	Eq         string
	In         []string
	Contains   string
	StartsWith string
	EndsWith   string
}

// Filter is decoded from the filter query parameter. Name is either a plain
// string or a NameFilterFunc object.
type Filter struct {
	Name     interface{} `json:"name,omitempty"`
	DataType string      `json:"dataType,omitempty"`
	Area     string      `json:"area,omitempty"`
}

type Predicate func(t *Tag) bool

func ParseFilter(filter *Filter) []Predicate {
	predicates := make([]Predicate, 0)
	if filter == nil {
		return predicates
	}

	// dataType
	if len(filter.DataType) > 0 {
		dt, err := constant.ParseDataType(filter.DataType)
		if err != nil {
			klog.V(3).InfoS("Failed to parse filter.dataType", "err", err)
			predicates = append(predicates, func(*Tag) bool { return false })
		} else {
			predicates = append(predicates, func(t *Tag) bool { return t.DataType() == dt })
		}
	}

	// area
	if len(filter.Area) > 0 {
		area := strings.ToUpper(strings.TrimSpace(filter.Area))
		predicates = append(predicates, func(t *Tag) bool { return t.Address.Area.String() == area })
	}

	// name
	if filter.Name != nil {
		if name, ok := filter.Name.(string); ok {
			predicates = append(predicates, func(t *Tag) bool { return name == t.Name })
		} else {
			var ff NameFilterFunc
			if err := mapstructure.Decode(filter.Name, &ff); err != nil {
				klog.V(3).InfoS("Failed to parse filter.name", "err", err)
			}
			predicates = append(predicates, nameFilter(ff)...)
		}
	}

	return predicates
}

func nameFilter(ff NameFilterFunc) []Predicate {
	predicates := make([]Predicate, 0)
	// eq
	if len(ff.Eq) > 0 {
		predicates = append(predicates, func(t *Tag) bool { return ff.Eq == t.Name })
	}
	// in
	if len(ff.In) > 0 {
		predicates = append(predicates, func(t *Tag) bool {
			for _, name := range ff.In {
				if name == t.Name {
					return true
				}
			}
			return false
		})
	}
	// contains
	if len(ff.Contains) > 0 {
		predicates = append(predicates, func(t *Tag) bool { return strings.Contains(t.Name, ff.Contains) })
	}
	// startsWith
	if len(ff.StartsWith) > 0 {
		prefix := strings.TrimSpace(ff.StartsWith)
		predicates = append(predicates, func(t *Tag) bool { return strings.HasPrefix(t.Name, prefix) })
	}
	// endsWith
	if len(ff.EndsWith) > 0 {
		suffix := strings.TrimSpace(ff.EndsWith)
		predicates = append(predicates, func(t *Tag) bool { return strings.HasSuffix(t.Name, suffix) })
	}
	return predicates
}

// Match reports whether t satisfies every predicate.
func Match(t *Tag, predicates []Predicate) bool {
	for _, p := range predicates {
		if !p(t) {
			return false
		}
	}
	return true
}
