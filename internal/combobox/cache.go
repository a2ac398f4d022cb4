package combobox

// resultCache keeps search results keyed by normalized query. Once more than
// limit distinct keys are stored the oldest inserted key is evicted; reads do
// not refresh an entry's position.
type resultCache struct {
	limit   int
	order   []string
	entries map[string][]Option
}

func newResultCache(limit int) *resultCache {
	return &resultCache{
		limit:   limit,
		entries: make(map[string][]Option, limit+1),
	}
}

func (c *resultCache) get(key string) ([]Option, bool) {
	opts, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return cloneOptions(opts), true
}

func (c *resultCache) put(key string, opts []Option) {
	if _, exists := c.entries[key]; exists {
		c.entries[key] = cloneOptions(opts)
		return
	}
	c.entries[key] = cloneOptions(opts)
	c.order = append(c.order, key)
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *resultCache) len() int {
	return len(c.order)
}

func cloneOptions(opts []Option) []Option {
	if opts == nil {
		return []Option{}
	}
	out := make([]Option, len(opts))
	copy(out, opts)
	return out
}
