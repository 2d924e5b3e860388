package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/tyler-smith/go-bip39/wordlists"
)

// wordlist is the BIP39 English wordlist (2048 words).
var wordlist = wordlists.English

// ClientIDGenerator creates human-readable subscriber IDs of the form
// "HappyTiger42-1700000000000". The final segment is the creation time in
// Unix milliseconds, which the registry reports as the connection time.
type ClientIDGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewClientIDGenerator creates a ClientIDGenerator with its own random source.
func NewClientIDGenerator() *ClientIDGenerator {
	return &ClientIDGenerator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// Generate returns a new client ID.
func (g *ClientIDGenerator) Generate() string {
	return g.WithTimestamp(g.Name())
}

// Name creates a random identity name without uniqueness checking.
// Returns a PascalCase name like "HappyTiger42".
func (g *ClientIDGenerator) Name() string {
	g.mu.Lock()
	word1 := wordlist[g.rng.Intn(len(wordlist))]
	word2 := wordlist[g.rng.Intn(len(wordlist))]
	num := g.rng.Intn(100)
	g.mu.Unlock()
	return fmt.Sprintf("%s%s%d", capitalize(word1), capitalize(word2), num)
}

// WithTimestamp appends the current Unix millisecond time to a client-chosen
// name. Dashes in the name are kept; only the final segment is the timestamp.
func (g *ClientIDGenerator) WithTimestamp(name string) string {
	return fmt.Sprintf("%s-%d", name, g.now().UnixMilli())
}

// capitalize returns the string with its first letter uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
