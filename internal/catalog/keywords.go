package catalog

import (
	"sort"
	"sync"
)

// KeywordSet collects every header keyword seen during ingest. It only
// grows and is safe for concurrent use.
type KeywordSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewKeywordSet() *KeywordSet {
	return &KeywordSet{seen: make(map[string]struct{})}
}

// Add records keywords and returns how many were not known before.
func (k *KeywordSet) Add(keywords ...string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	added := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, ok := k.seen[kw]; !ok {
			k.seen[kw] = struct{}{}
			added++
		}
	}
	return added
}

// Sorted returns the known keywords in lexical order.
func (k *KeywordSet) Sorted() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.seen))
	for kw := range k.seen {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func (k *KeywordSet) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}
