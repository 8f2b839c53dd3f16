package store

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// pushKeys generates child keys that sort by creation time. Keys minted by
// one generator are strictly increasing even within the same millisecond.
// Stores mint the key inside the write that commits it, after the siblings
// already present (see after), so key order is commit order.
type pushKeys struct {
	mu     sync.Mutex
	lastMs int64
	seq    int
}

func (g *pushKeys) next(nowMillis int64) string {
	g.mu.Lock()
	if nowMillis <= g.lastMs {
		nowMillis = g.lastMs
		g.seq++
	} else {
		g.lastMs = nowMillis
		g.seq = 0
	}
	ms, seq := nowMillis, g.seq
	g.mu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%013d%04d-%s", ms, seq, suffix)
}

// after mints a key that sorts after last, an existing sibling key
func (g *pushKeys) after(nowMillis int64, last string) string {
	if ms, seq, ok := parsePushKey(last); ok {
		g.mu.Lock()
		if ms > g.lastMs || (ms == g.lastMs && seq > g.seq) {
			g.lastMs, g.seq = ms, seq
		}
		g.mu.Unlock()
	}
	return g.next(nowMillis)
}

func parsePushKey(key string) (int64, int, bool) {
	if len(key) < 17 {
		return 0, 0, false
	}
	ms, err := strconv.ParseInt(key[:13], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.Atoi(key[13:17])
	if err != nil {
		return 0, 0, false
	}
	return ms, seq, true
}

// lastChildKey returns the greatest key of a map node, or ""
func lastChildKey(node any) string {
	m, _ := node.(map[string]any)
	last := ""
	for k := range m {
		if k > last {
			last = k
		}
	}
	return last
}
