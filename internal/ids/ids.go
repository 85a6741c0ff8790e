// Package ids generates the time-prefixed identifiers used for carts,
// checkout sessions, line items and order numbers.
package ids

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/md-checkout/internal/clock"
)

const (
	lowerAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	upperAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generator produces identifiers of the form <prefix><sep><ms><sep><suffix>.
// The millisecond component never repeats within one Generator, so two ids
// from the same generator cannot collide even when the random suffix does.
type Generator struct {
	mu     sync.Mutex
	clock  clock.Clock
	lastMs int64
}

func NewGenerator(clk clock.Clock) *Generator {
	return &Generator{clock: clk}
}

// NextMillis returns a strictly increasing unix-millisecond value.
func (g *Generator) NextMillis() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.clock.Now().UnixMilli()
	if ms <= g.lastMs {
		ms = g.lastMs + 1
	}
	g.lastMs = ms
	return ms
}

// Lower returns prefix_<ms>_<n lowercase base36 chars>.
func (g *Generator) Lower(prefix string, n int) string {
	return prefix + "_" + strconv.FormatInt(g.NextMillis(), 10) + "_" + Random(n, false)
}

// Upper returns prefix-<ms>-<n uppercase base36 chars>.
func (g *Generator) Upper(prefix string, n int) string {
	return prefix + "-" + strconv.FormatInt(g.NextMillis(), 10) + "-" + Random(n, true)
}

// Random returns n base36 characters drawn from crypto/rand.
func Random(n int, upper bool) string {
	alphabet := lowerAlphabet
	if upper {
		alphabet = upperAlphabet
	}
	base := big.NewInt(int64(len(alphabet)))

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is gone
			idx = big.NewInt(time.Now().UnixNano() % int64(len(alphabet)))
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}
