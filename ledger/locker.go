package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// =============================================================================
// KEY LOCKER - Single writer per (store, product)
// =============================================================================

// KeyLocker serializes writers of the same balance key. Lock must acquire
// every key or none, and the returned release func frees all of them.
type KeyLocker interface {
	Lock(ctx context.Context, keys ...string) (release func(), err error)
}

// BalanceKey is the lock key for one balance row.
func BalanceKey(storeID StoreID, productID ProductID) string {
	return fmt.Sprintf("stock:%d:%d", storeID, productID)
}

// SortedKeys deduplicates and orders keys so multi-key lockers always
// acquire in the same order.
func SortedKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LocalLocker is an in-process KeyLocker backed by a fixed set of mutex
// stripes. Two keys may share a stripe; that only costs parallelism.
type LocalLocker struct {
	stripes []sync.Mutex
}

func NewLocalLocker(stripes int) *LocalLocker {
	if stripes <= 0 {
		stripes = 64
	}
	return &LocalLocker{stripes: make([]sync.Mutex, stripes)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	idx := l.stripeIndexes(keys)
	for i, s := range idx {
		if err := ctx.Err(); err != nil {
			for j := i - 1; j >= 0; j-- {
				l.stripes[idx[j]].Unlock()
			}
			return nil, err
		}
		l.stripes[s].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			l.stripes[idx[i]].Unlock()
		}
	}, nil
}

func (l *LocalLocker) stripeIndexes(keys []string) []int {
	seen := make(map[int]bool, len(keys))
	var idx []int
	for _, k := range keys {
		h := fnv.New32a()
		h.Write([]byte(k))
		i := int(h.Sum32() % uint32(len(l.stripes)))
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}
