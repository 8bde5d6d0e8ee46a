// Package challenge issues and validates the private proof-of-humanity
// challenges used for self-service quarantine release.
package challenge

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ChokorKassem/web-client-detector/internal/config"
	"github.com/ChokorKassem/web-client-detector/internal/platform"
)

// TTL is how long a challenge stays answerable after issuance.
const TTL = 5 * time.Minute

const wordAlphabet = "abcdefghijklmnopqrstuvwxyz"
const wordLength = 6

// Kind is a challenge flavor.
type Kind string

const (
	KindWord Kind = "word"
	KindMath Kind = "math"
)

// Key identifies the single live challenge slot per (community, user).
type Key struct {
	CommunityID int64
	UserID      int64
}

// Challenge is one issued challenge.
type Challenge struct {
	Kind      Kind
	Answer    string
	Prompt    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Surfaces captured at issuance, for the audit line on success.
	Surfaces []platform.Surface
}

// Result classifies a submission attempt.
type Result int

const (
	// ResultNone: no live challenge exists for the key.
	ResultNone Result = iota
	// ResultExpired: the challenge outlived its TTL and was deleted.
	ResultExpired
	// ResultWrong: mismatch; the challenge stays live for another attempt.
	ResultWrong
	// ResultSuccess: match before expiry; the challenge was deleted.
	ResultSuccess
)

// Engine stores at most one live challenge per key. Safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	active map[Key]*Challenge
	ttl    time.Duration
	now    func() time.Time
}

func NewEngine() *Engine {
	return &Engine{
		active: make(map[Key]*Challenge),
		ttl:    TTL,
		now:    time.Now,
	}
}

// Issue creates a challenge of a uniformly random enabled kind, replacing
// any prior live challenge for the key. kinds must contain at least one of
// word or math.
func (e *Engine) Issue(key Key, kinds []config.Method, surfaces []platform.Surface) (*Challenge, error) {
	var enabled []Kind
	for _, m := range kinds {
		switch m {
		case config.MethodWord:
			enabled = append(enabled, KindWord)
		case config.MethodMath:
			enabled = append(enabled, KindMath)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no challenge-based verification methods enabled")
	}

	kind := enabled[mathrand.Intn(len(enabled))]
	var ch *Challenge
	var err error
	switch kind {
	case KindWord:
		ch, err = newWordChallenge()
	case KindMath:
		ch = newMathChallenge()
	}
	if err != nil {
		return nil, err
	}

	ch.IssuedAt = e.now()
	ch.ExpiresAt = ch.IssuedAt.Add(e.ttl)
	ch.Surfaces = surfaces

	e.mu.Lock()
	e.active[key] = ch
	e.mu.Unlock()
	return ch, nil
}

// newWordChallenge generates a 6-letter token. The token doubles as the
// release credential, so it comes from a cryptographically strong source.
func newWordChallenge() (*Challenge, error) {
	var b strings.Builder
	for i := 0; i < wordLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(wordAlphabet))))
		if err != nil {
			return nil, fmt.Errorf("failed to generate word challenge: %w", err)
		}
		b.WriteByte(wordAlphabet[n.Int64()])
	}
	word := b.String()
	return &Challenge{
		Kind:   KindWord,
		Answer: word,
		Prompt: fmt.Sprintf("Type this exact word (private): **%s**", word),
	}, nil
}

// newMathChallenge generates a small arithmetic problem. The operand range
// is deliberately guessable; math/rand is enough here.
func newMathChallenge() *Challenge {
	a := 2 + mathrand.Intn(11) // [2,12]
	b := 2 + mathrand.Intn(11)
	op := "+"
	answer := a + b
	if mathrand.Intn(2) == 1 {
		op = "*"
		answer = a * b
	}
	expr := fmt.Sprintf("%d %s %d", a, op, b)
	return &Challenge{
		Kind:   KindMath,
		Answer: fmt.Sprintf("%d", answer),
		Prompt: fmt.Sprintf("Solve (private): **%s**", expr),
	}
}

// Active returns the live challenge for the key, lazily deleting it when
// expired.
func (e *Engine) Active(key Key) (*Challenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.active[key]
	if !ok {
		return nil, false
	}
	if e.now().After(ch.ExpiresAt) {
		delete(e.active, key)
		return nil, false
	}
	return ch, true
}

// Submit checks an answer. Comparison is case-insensitive on the trimmed
// submission. On success the challenge is returned for audit use and
// removed; on a wrong answer it stays live.
func (e *Engine) Submit(key Key, answer string) (*Challenge, Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.active[key]
	if !ok {
		return nil, ResultNone
	}
	if e.now().After(ch.ExpiresAt) {
		delete(e.active, key)
		return nil, ResultExpired
	}
	submitted := strings.ToLower(strings.TrimSpace(answer))
	if submitted != strings.ToLower(ch.Answer) {
		return nil, ResultWrong
	}
	delete(e.active, key)
	return ch, ResultSuccess
}
