package domain

// CloneValue deep-copies a JSON-shaped value. Maps and slices are copied,
// scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// CloneAttributes deep-copies an attribute map.
func CloneAttributes(attrs Attributes) Attributes {
	if attrs == nil {
		return nil
	}
	out := make(Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = CloneValue(v)
	}
	return out
}

// MergeAttributes returns a new map holding dst deep-merged with src. Nested
// maps merge key by key; any other incoming value replaces the existing one.
// Neither argument is modified.
func MergeAttributes(dst, src Attributes) Attributes {
	out := CloneAttributes(dst)
	if out == nil {
		out = make(Attributes, len(src))
	}
	for k, v := range src {
		incoming, isMap := v.(map[string]any)
		existing, wasMap := out[k].(map[string]any)
		if isMap && wasMap {
			out[k] = MergeAttributes(existing, incoming)
			continue
		}
		out[k] = CloneValue(v)
	}
	return out
}

// MergeTables deep-merges every row of src into a copy of dst.
func MergeTables(dst, src Tables) Tables {
	out := make(Tables, len(dst)+len(src))
	for key, rows := range dst {
		out[key] = rows
	}
	for key, rows := range src {
		merged := make(map[string]Attributes, len(out[key])+len(rows))
		for id, row := range out[key] {
			merged[id] = row
		}
		for id, row := range rows {
			merged[id] = MergeAttributes(merged[id], row)
		}
		out[key] = merged
	}
	return out
}
