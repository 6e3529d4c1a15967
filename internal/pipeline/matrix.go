package pipeline

import "sort"

type Matrix struct {
	Dimensions map[string][]string `yaml:",inline"`
	Include    []map[string]string `yaml:"include"`
	Exclude    []map[string]string `yaml:"exclude"`
}

// Cell is one concrete assignment of matrix dimensions.
type Cell map[string]string

func (c Cell) clone() Cell {
	out := make(Cell, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// excludeMatches is exact match on every key present in the exclude row.
func excludeMatches(c Cell, excl map[string]string) bool {
	if len(excl) == 0 {
		return false
	}
	for k, v := range excl {
		if c[k] != v {
			return false
		}
	}
	return true
}

// ExpandMatrix produces the job cells for a matrix: the cartesian product of
// its dimensions minus exclude rows, extended or appended by include rows.
// Cell order is deterministic: dimension keys sorted, values in listed order.
func ExpandMatrix(m Matrix) []Cell {
	keys := make([]string, 0, len(m.Dimensions))
	for k := range m.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cells := []Cell{{}}
	for _, key := range keys {
		next := make([]Cell, 0, len(cells)*len(m.Dimensions[key]))
		for _, c := range cells {
			for _, val := range m.Dimensions[key] {
				nc := c.clone()
				nc[key] = val
				next = append(next, nc)
			}
		}
		cells = next
	}

	kept := make([]Cell, 0, len(cells))
	for _, c := range cells {
		excluded := false
		for _, excl := range m.Exclude {
			if excludeMatches(c, excl) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, c)
		}
	}

	for _, inc := range m.Include {
		attached := false
		for _, c := range kept {
			// An include row attaches to cells agreeing on every original
			// dimension it names, extending them with its extra keys.
			agrees := true
			overlaps := false
			for k, v := range inc {
				if _, isDim := m.Dimensions[k]; !isDim {
					continue
				}
				overlaps = true
				if c[k] != v {
					agrees = false
					break
				}
			}
			if overlaps && agrees {
				for k, v := range inc {
					c[k] = v
				}
				attached = true
			}
		}
		if !attached {
			nc := make(Cell, len(inc))
			for k, v := range inc {
				nc[k] = v
			}
			kept = append(kept, nc)
		}
	}

	return kept
}
