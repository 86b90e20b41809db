// Package idgen generates the identifiers used to name hook contexts and
// synthetic subclasses.
package idgen

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var (
	defaultMu           sync.Mutex
	defaultInstantiated bool
	defaultGenerator    Generator
)

// Generator can generate IDs.
type Generator interface {
	// Generate an ID
	Generate() string
}

// NewSequential returns a generator whose IDs are "1", "2", ... It is
// deterministic as long as calls are not concurrent.
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator of globally unique, non-deterministic IDs.
func NewParallel() Generator {
	return parallelGenerator{}
}

// UseSequential makes Default return a sequential generator. It must be
// called before Default is first used.
func UseSequential() {
	use(NewSequential())
}

// UseParallel makes Default return a parallel generator. It must be called
// before Default is first used.
func UseParallel() {
	use(NewParallel())
}

func use(g Generator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultInstantiated {
		log.Panic("cannot change id generator type after using it")
	}

	defaultGenerator = g
	defaultInstantiated = true
}

// Default returns the process-wide generator, which is sequential unless
// UseParallel was called first.
func Default() Generator {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if !defaultInstantiated {
		defaultGenerator = NewSequential()
		defaultInstantiated = true
	}

	return defaultGenerator
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
