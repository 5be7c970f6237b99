package capture

// FilterSpec is the minimal view of a table's field configuration the
// filter needs: the ordered allow-list (if any) and the global
// deny-set.
type FilterSpec struct {
	// Fields is the ordered set of columns to keep; nil means "every
	// column not in Exclude".
	Fields  []string
	Exclude map[string]struct{}
}

// FilterFields returns a new mapping containing exactly those columns
// of row that (i) appear in spec.Fields when set, else all columns,
// and (ii) are not in spec.Exclude. It also returns the resolved
// column order: spec.Fields' order when set, otherwise keyOrder (the
// row's own insertion order, since Go maps do not preserve one) —
// columns in keyOrder but absent from row are skipped.
func FilterFields(row map[string]any, keyOrder []string, spec FilterSpec) (map[string]any, []string) {
	out := make(map[string]any, len(row))
	var order []string

	if len(spec.Fields) > 0 {
		for _, f := range spec.Fields {
			if _, excluded := spec.Exclude[f]; excluded {
				continue
			}
			if v, ok := row[f]; ok {
				out[f] = v
				order = append(order, f)
			}
		}
		return out, order
	}

	for _, k := range keyOrder {
		if _, excluded := spec.Exclude[k]; excluded {
			continue
		}
		if v, ok := row[k]; ok {
			out[k] = v
			order = append(order, k)
		}
	}
	return out, order
}
