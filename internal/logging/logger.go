// Package logging provides categorized logging for the reconciliation
// engine, one named zap logger per subsystem. Debug output is gated by
// configuration; Initialize is safe to skip in tests, in which case
// everything goes to a no-op core.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one engine subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // process startup
	CategoryStore     Category = "store"     // SQLite operations
	CategoryImport    Category = "import"    // MC/LC import orchestration
	CategoryAlign     Category = "align"     // line alignment engine
	CategoryCatalog   Category = "catalog"   // price-list catalog index
	CategoryEmbedding Category = "embedding" // embedding engine
	CategoryVecIndex  Category = "vecindex"  // per-commessa ANN index
	CategoryAnalysis  Category = "analysis"  // WBS aggregation + cache
	CategorySearch    Category = "search"    // catalog search
	CategoryBundle    Category = "bundle"    // .mmcomm bundles
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = map[Category]*zap.SugaredLogger{}
	debug   bool
)

// Initialize installs the process logger. debugMode lifts the level to
// Debug and enables the *Debug helpers.
func Initialize(debugMode bool) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debugMode {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger
	loggers = map[Category]*zap.SugaredLogger{}
	debug = debugMode
	mu.Unlock()
	return nil
}

// Get returns the sugared logger for a category.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// DebugEnabled reports whether debug-level helpers emit anything.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debug
}

// Category helpers, one Info-level formatter per subsystem plus a
// Debug variant gated on debug mode.

func Store(format string, args ...any)     { Get(CategoryStore).Infof(format, args...) }
func Import(format string, args ...any)    { Get(CategoryImport).Infof(format, args...) }
func Align(format string, args ...any)     { Get(CategoryAlign).Infof(format, args...) }
func Catalog(format string, args ...any)   { Get(CategoryCatalog).Infof(format, args...) }
func Embedding(format string, args ...any) { Get(CategoryEmbedding).Infof(format, args...) }
func Analysis(format string, args ...any)  { Get(CategoryAnalysis).Infof(format, args...) }
func Search(format string, args ...any)    { Get(CategorySearch).Infof(format, args...) }

func StoreDebug(format string, args ...any)     { debugf(CategoryStore, format, args...) }
func ImportDebug(format string, args ...any)    { debugf(CategoryImport, format, args...) }
func AlignDebug(format string, args ...any)     { debugf(CategoryAlign, format, args...) }
func CatalogDebug(format string, args ...any)   { debugf(CategoryCatalog, format, args...) }
func EmbeddingDebug(format string, args ...any) { debugf(CategoryEmbedding, format, args...) }
func AnalysisDebug(format string, args ...any)  { debugf(CategoryAnalysis, format, args...) }
func SearchDebug(format string, args ...any)    { debugf(CategorySearch, format, args...) }

func debugf(cat Category, format string, args ...any) {
	if !DebugEnabled() {
		return
	}
	Get(cat).Debugf(format, args...)
}

// Timer measures one coarse operation and logs its duration on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation within a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	if t == nil || !DebugEnabled() {
		return
	}
	Get(t.cat).Debugf("%s completed in %v", t.op, time.Since(t.start))
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
