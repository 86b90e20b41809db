package hook

import (
	"go.uber.org/zap"

	"github.com/sarchlab/interpose/idgen"
	"github.com/sarchlab/interpose/instrumentation/hooking"
	"github.com/sarchlab/interpose/objrt"
)

// Builder can build Managers.
type Builder struct {
	logger  *zap.Logger
	checker Checker
	debug   bool
	idGen   idgen.Generator
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{}
}

// WithLogger sets the logger. Managers do not log by default.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithChecker replaces the signature checker.
func (b Builder) WithChecker(checker Checker) Builder {
	b.checker = checker
	return b
}

// WithDebug makes the Manager panic when it finds its bookkeeping broken,
// instead of logging and carrying on.
func (b Builder) WithDebug(debug bool) Builder {
	b.debug = debug
	return b
}

// WithIDGenerator sets the generator of context IDs and synthetic class
// names.
func (b Builder) WithIDGenerator(g idgen.Generator) Builder {
	b.idGen = g
	return b
}

// Build creates a Manager.
func (b Builder) Build() *Manager {
	m := &Manager{
		HookableBase: hooking.NewHookableBase(),
		checker:      b.checker,
		logger:       b.logger,
		debug:        b.debug,
		idGen:        b.idGen,
		contexts:     make(map[contextKey]*hookContext),
		wrappers:     make(map[*objrt.Class]*instanceWrapper),
	}

	if m.checker == nil {
		m.checker = NewSignatureChecker()
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	if m.idGen == nil {
		m.idGen = idgen.Default()
	}

	return m
}
