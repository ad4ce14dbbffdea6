package vault

// Merge computes the effective secret: child fields override parent
// fields depth-first, except arrays, which concatenate parent-then-child.
// Inputs are never mutated; the result is a fresh structure.
func Merge(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, cv := range child {
		pv, exists := out[k]
		if !exists {
			out[k] = cv
			continue
		}
		pm, pok := pv.(map[string]any)
		cm, cok := cv.(map[string]any)
		if pok && cok {
			out[k] = Merge(pm, cm)
			continue
		}
		pa, paok := pv.([]any)
		ca, caok := cv.([]any)
		if paok && caok {
			joined := make([]any, 0, len(pa)+len(ca))
			joined = append(joined, pa...)
			joined = append(joined, ca...)
			out[k] = joined
			continue
		}
		out[k] = cv
	}
	return out
}
