// Package matcher evaluates author-supplied patterns against submission text.
//
// Patterns are untrusted input. Every failure while compiling or evaluating a
// pattern is contained here and reported as "no match", so one malformed rule
// can only degrade its own check.
package matcher

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Matcher tests a single pattern against text
type Matcher interface {
	Test(pattern, text string) bool
}

// Config bounds the cost of pattern evaluation
type Config struct {
	// MaxPatternLength rejects longer patterns outright (default: 4096)
	MaxPatternLength int

	// MaxInputBytes rejects longer texts outright (default: 1 MiB)
	MaxInputBytes int

	// CacheSize caps the number of compiled patterns kept (default: 1024)
	CacheSize int

	// Logger receives compile failures at debug level
	Logger *slog.Logger
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxPatternLength: 4096,
		MaxInputBytes:    1 << 20,
		CacheSize:        1024,
	}
}

// RegexMatcher is a Matcher backed by RE2 with a compiled-pattern cache.
// It is safe for concurrent use.
type RegexMatcher struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*compiled
}

// compiled is a cache entry; re is nil when the pattern failed to compile
type compiled struct {
	re  *regexp.Regexp
	err error
}

// New creates a RegexMatcher, filling unset limits from DefaultConfig
func New(cfg Config) *RegexMatcher {
	def := DefaultConfig()
	if cfg.MaxPatternLength <= 0 {
		cfg.MaxPatternLength = def.MaxPatternLength
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = def.MaxInputBytes
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RegexMatcher{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]*compiled),
	}
}

// Test reports whether pattern matches text. It never panics and never
// returns an error: anything that goes wrong counts as no match.
func (m *RegexMatcher) Test(pattern, text string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("pattern evaluation panicked", "pattern", pattern, "panic", r)
			matched = false
		}
	}()

	if len(text) > m.cfg.MaxInputBytes {
		m.logger.Debug("input exceeds limit", "bytes", len(text), "limit", m.cfg.MaxInputBytes)
		return false
	}

	re, err := m.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Compile returns the compiled form of pattern, using the cache
func (m *RegexMatcher) Compile(pattern string) (*regexp.Regexp, error) {
	m.mu.RLock()
	entry, ok := m.cache[pattern]
	m.mu.RUnlock()
	if ok {
		return entry.re, entry.err
	}

	entry = m.compile(pattern)
	if entry.err != nil {
		m.logger.Debug("pattern rejected", "pattern", truncate(pattern, 120), "error", entry.err)
	}

	m.mu.Lock()
	if len(m.cache) >= m.cfg.CacheSize {
		// Rule sets are small and stable; a full reset is enough.
		m.cache = make(map[string]*compiled)
	}
	m.cache[pattern] = entry
	m.mu.Unlock()

	return entry.re, entry.err
}

func (m *RegexMatcher) compile(pattern string) *compiled {
	if strings.TrimSpace(pattern) == "" {
		return &compiled{err: fmt.Errorf("empty pattern")}
	}
	if len(pattern) > m.cfg.MaxPatternLength {
		return &compiled{err: fmt.Errorf("pattern length %d exceeds limit %d", len(pattern), m.cfg.MaxPatternLength)}
	}

	expr, err := Translate(pattern)
	if err != nil {
		return &compiled{err: err}
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return &compiled{err: fmt.Errorf("compile pattern: %w", err)}
	}
	return &compiled{re: re}
}

// CacheLen returns the number of cached patterns
func (m *RegexMatcher) CacheLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var defaultMatcher = New(DefaultConfig())

// Test evaluates pattern against text with the package default matcher
func Test(pattern, text string) bool {
	return defaultMatcher.Test(pattern, text)
}
