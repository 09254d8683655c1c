package auction

// DefaultPool is the pool used when classification yields nothing
const DefaultPool = "default"

// Classify maps a context request onto distribution pools. The first
// non-empty candidate wins: category_pools, categories, pools, the same keys
// under context, then features.topic. Scalars become singletons, duplicates
// are removed preserving first-seen order, and an empty result falls back to
// the default pool.
func Classify(req *ContextRequest) []string {
	candidates := []interface{}{
		req.CategoryPools,
		req.Categories,
		req.Pools,
	}
	if req.Context != nil {
		candidates = append(candidates,
			req.Context["category_pools"],
			req.Context["categories"],
			req.Context["pools"],
		)
	}
	if req.Features != nil {
		candidates = append(candidates, req.Features["topic"])
	}

	for _, candidate := range candidates {
		if pools := normalizePools(candidate); len(pools) > 0 {
			return pools
		}
	}
	return []string{DefaultPool}
}

func normalizePools(v interface{}) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return dedupePools(val)
	case []interface{}:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				strs = append(strs, s)
			}
		}
		return dedupePools(strs)
	default:
		return nil
	}
}

func dedupePools(pools []string) []string {
	seen := make(map[string]struct{}, len(pools))
	out := make([]string, 0, len(pools))
	for _, pool := range pools {
		if pool == "" {
			continue
		}
		if _, dup := seen[pool]; dup {
			continue
		}
		seen[pool] = struct{}{}
		out = append(out, pool)
	}
	return out
}
