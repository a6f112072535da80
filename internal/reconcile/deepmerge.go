package reconcile

// DeepMerge merges b on top of a, in place. A value of the sentinel string
// "DELETE" in b removes the corresponding key from a. Grounded on
// original_source/osism/tasks/conductor/utils.py:deep_merge.
func DeepMerge(a, b map[string]any) {
	for key, value := range b {
		if s, ok := value.(string); ok && s == "DELETE" {
			delete(a, key)
			continue
		}
		bm, bIsMap := value.(map[string]any)
		am, aExists := a[key]
		aIsMap := false
		var amTyped map[string]any
		if aExists {
			amTyped, aIsMap = am.(map[string]any)
		}
		if !aExists || !aIsMap || !bIsMap {
			a[key] = value
			continue
		}
		DeepMerge(amTyped, bm)
	}
}

// DeepCompare finds keys present in a that are absent from, or different
// in, b, writing the required changes into updates. Grounded on
// original_source/osism/tasks/conductor/utils.py:deep_compare.
func DeepCompare(a, b, updates map[string]any) {
	for key, value := range a {
		vm, isMap := value.(map[string]any)
		if !isMap {
			bv, ok := b[key]
			if !ok || !equal(bv, value) {
				updates[key] = value
			}
			continue
		}
		nested := map[string]any{}
		bm, _ := b[key].(map[string]any)
		DeepCompare(vm, bm, nested)
		if len(nested) > 0 {
			updates[key] = nested
		}
	}
}

func equal(a, b any) bool {
	// Values here originate from JSON-shaped decode (string/bool/float64/
	// map/slice) so a simple comparable check covers scalars; maps/slices
	// are handled by the caller's recursion, never passed to equal directly.
	return a == b
}
