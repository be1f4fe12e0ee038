// Package dice rolls damage expressions such as "2d6+3".
package dice

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Expression is a parsed NdS+M expression.
type Expression struct {
	Raw      string
	Count    int
	Sides    int
	Modifier int
}

// Max returns the highest total the expression can produce.
func (e Expression) Max() int {
	return e.Count*e.Sides + e.Modifier
}

// Parse reads forms like "d20", "2d6", "2d6+3" and "4d8-2".
//
// Postcondition: Count >= 1 and Sides >= 2 when err is nil.
func Parse(raw string) (Expression, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	count, rest, ok := strings.Cut(s, "d")
	if !ok {
		return Expression{}, fmt.Errorf("dice: missing 'd' in %q", raw)
	}

	e := Expression{Raw: raw, Count: 1}
	if count != "" {
		n, err := strconv.Atoi(count)
		if err != nil || n < 1 {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q", raw)
		}
		e.Count = n
	}

	sides := rest
	if i := strings.IndexAny(rest, "+-"); i >= 0 {
		sides = rest[:i]
		m, err := strconv.Atoi(rest[i:])
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid modifier in %q: %w", raw, err)
		}
		e.Modifier = m
	}
	n, err := strconv.Atoi(sides)
	if err != nil || n < 2 {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q", raw)
	}
	e.Sides = n
	return e, nil
}

// MustParse is Parse for package-level constants.
func MustParse(raw string) Expression {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

// Result is one evaluated roll.
//
// Invariant: Total == sum(Dice) + Modifier.
type Result struct {
	Expression string
	Dice       []int
	Modifier   int
	Total      int
}

// Critical reports whether every die came up at its maximum.
func (r Result) Critical(sides int) bool {
	for _, d := range r.Dice {
		if d != sides {
			return false
		}
	}
	return len(r.Dice) > 0
}

// Source yields integers in [0, n).
type Source interface {
	IntN(n int) int
}

// Roller evaluates expressions against a Source and logs every roll at debug.
//
// Roller is safe for concurrent use.
type Roller struct {
	mu     sync.Mutex
	src    Source
	logger *zap.Logger
}

// NewRoller creates a roller seeded deterministically from seed.
//
// Precondition: logger must be non-nil.
func NewRoller(seed uint64, logger *zap.Logger) *Roller {
	return NewRollerFrom(rand.New(rand.NewPCG(seed, ^seed)), logger)
}

// NewRollerFrom creates a roller over an existing source.
//
// Precondition: src and logger must be non-nil.
func NewRollerFrom(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Roll evaluates e.
//
// Precondition: e came from Parse.
func (r *Roller) Roll(e Expression) Result {
	res := Result{Expression: e.Raw, Dice: make([]int, e.Count), Modifier: e.Modifier}
	r.mu.Lock()
	for i := range res.Dice {
		res.Dice[i] = r.src.IntN(e.Sides) + 1
	}
	r.mu.Unlock()

	res.Total = e.Modifier
	for _, d := range res.Dice {
		res.Total += d
	}
	r.logger.Debug("dice roll",
		zap.String("expression", res.Expression),
		zap.Ints("dice", res.Dice),
		zap.Int("modifier", res.Modifier),
		zap.Int("total", res.Total),
	)
	return res
}
