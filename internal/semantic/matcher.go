// Package semantic implements the semantic matching layer: phrase similarity from an
// embedding model, with a character-similarity fallback when no model can be loaded.
package semantic

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/stringmatch"
)

// DefaultThreshold applies to domains that were never configured.
const DefaultThreshold = 0.8

const defaultCacheSize = 4096

// Method names how a similarity score was computed.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodCharacter Method = "character"
)

// Embedder turns a phrase into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ModelLoader acquires an Embedder. The matcher calls it at most once per
// initialization cycle.
type ModelLoader interface {
	LoadModel(ctx context.Context) (Embedder, error)
}

// LoaderFunc adapts a function to ModelLoader.
type LoaderFunc func(ctx context.Context) (Embedder, error)

func (f LoaderFunc) LoadModel(ctx context.Context) (Embedder, error) {
	return f(ctx)
}

// ErrNoModel is returned by Reinitialize when the matcher has no loader.
var ErrNoModel = errors.New("semantic: no model loader configured")

// model is the published result of one initialization. A nil embedder means the load
// failed and every call uses the character fallback.
type model struct {
	embedder Embedder
}

// Score is a similarity with its provenance.
type Score struct {
	Similarity float64
	Method     Method
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger. The default discards.
func WithLogger(log logr.Logger) Option {
	return func(m *Matcher) { m.log = log }
}

// WithDomains seeds per-domain thresholds.
func WithDomains(domains ...domain.Domain) Option {
	return func(m *Matcher) {
		for _, d := range domains {
			if d != nil {
				m.thresholds[domain.Key(d.Name())] = d.SemanticThreshold()
			}
		}
	}
}

// WithCacheSize bounds the phrase-vector cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(m *Matcher) { m.cacheSize = n }
}

// Matcher scores phrase similarity.
//
// The embedding model is owned by the Matcher: it is loaded on first use through the
// ModelLoader and released by Cleanup. If the load fails the failure is logged once and
// the matcher keeps using character similarity until Reinitialize or Cleanup.
//
// Similarity and IsMatch are safe for concurrent use. Cleanup and Reinitialize must not
// run while matching calls are in flight; callers drain their work first.
type Matcher struct {
	loader ModelLoader
	log    logr.Logger

	initMu sync.Mutex
	active atomic.Pointer[model]

	thresholdMu sync.RWMutex
	thresholds  map[string]float64

	cacheMu   sync.Mutex
	cache     map[string][]float64
	cacheSize int
}

// New returns a Matcher. A nil loader gives a matcher that only uses character
// similarity.
func New(loader ModelLoader, opts ...Option) *Matcher {
	m := &Matcher{
		loader:     loader,
		log:        logr.Discard(),
		thresholds: make(map[string]float64),
		cacheSize:  defaultCacheSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = make(map[string][]float64)
	return m
}

// Configure sets the acceptance threshold for a domain.
func (m *Matcher) Configure(name string, threshold float64) {
	m.thresholdMu.Lock()
	defer m.thresholdMu.Unlock()
	m.thresholds[domain.Key(name)] = clamp(threshold)
}

// Threshold returns the acceptance threshold for a domain, falling back to
// DefaultThreshold.
func (m *Matcher) Threshold(name string) float64 {
	if t, ok := m.ConfiguredThreshold(name); ok {
		return t
	}
	return DefaultThreshold
}

// ConfiguredThreshold returns the threshold set for a domain through WithDomains or
// Configure.
func (m *Matcher) ConfiguredThreshold(name string) (float64, bool) {
	m.thresholdMu.RLock()
	defer m.thresholdMu.RUnlock()
	t, ok := m.thresholds[domain.Key(name)]
	return t, ok
}

// Similarity returns a score in [0, 1].
func (m *Matcher) Similarity(ctx context.Context, name, a, b string) float64 {
	return m.Score(ctx, name, a, b).Similarity
}

// IsMatch reports whether a and b are at least threshold-similar. A threshold <= 0
// selects the configured threshold of the domain.
func (m *Matcher) IsMatch(ctx context.Context, name, a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = m.Threshold(name)
	}
	return m.Similarity(ctx, name, a, b) >= threshold
}

// Score is Similarity with the method that produced it.
func (m *Matcher) Score(ctx context.Context, name, a, b string) Score {
	na := stringmatch.Normalize(a)
	nb := stringmatch.Normalize(b)
	if na == nb {
		return Score{Similarity: 1, Method: MethodCharacter}
	}

	mdl := m.ensure(ctx)
	if mdl.embedder != nil {
		va, errA := m.vector(ctx, mdl.embedder, na)
		vb, errB := m.vector(ctx, mdl.embedder, nb)
		if errA == nil && errB == nil {
			if sim, ok := Cosine(va, vb); ok {
				return Score{Similarity: clamp(sim), Method: MethodEmbedding}
			}
		} else {
			m.log.V(1).Info("embedding unavailable for phrase, using character similarity",
				"domain", domain.Key(name), "error", errors.Join(errA, errB).Error())
		}
	}
	return Score{Similarity: Dice(na, nb), Method: MethodCharacter}
}

// ensure returns the active model, loading it on first use.
func (m *Matcher) ensure(ctx context.Context) *model {
	if mdl := m.active.Load(); mdl != nil {
		return mdl
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()
	if mdl := m.active.Load(); mdl != nil {
		return mdl
	}

	mdl := &model{}
	if m.loader != nil {
		emb, err := m.loader.LoadModel(ctx)
		if err != nil {
			m.log.Error(err, "embedding model unavailable, falling back to character similarity")
		} else {
			mdl.embedder = emb
			m.log.Info("embedding model loaded")
		}
	}
	m.active.Store(mdl)
	return mdl
}

// Ready reports whether an embedding model is loaded.
func (m *Matcher) Ready() bool {
	mdl := m.active.Load()
	return mdl != nil && mdl.embedder != nil
}

// Reinitialize drops the current model and loads a fresh one immediately. The returned
// error is the load failure, if any; the matcher falls back either way.
func (m *Matcher) Reinitialize(ctx context.Context) error {
	if m.loader == nil {
		return ErrNoModel
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()
	m.release()

	emb, err := m.loader.LoadModel(ctx)
	if err != nil {
		m.active.Store(&model{})
		m.log.Error(err, "embedding model reinitialization failed, falling back to character similarity")
		return err
	}
	m.active.Store(&model{embedder: emb})
	m.log.Info("embedding model reinitialized")
	return nil
}

// Cleanup releases the model and cached vectors. The next matching call loads the model
// again. Calling Cleanup when nothing is loaded is a no-op.
func (m *Matcher) Cleanup() {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	m.release()
}

// release must be called with initMu held.
func (m *Matcher) release() {
	old := m.active.Swap(nil)
	if old != nil && old.embedder != nil {
		if c, ok := old.embedder.(io.Closer); ok {
			if err := c.Close(); err != nil {
				m.log.Error(err, "closing embedding model")
			}
		}
	}

	m.cacheMu.Lock()
	m.cache = make(map[string][]float64)
	m.cacheMu.Unlock()
}

func (m *Matcher) vector(ctx context.Context, emb Embedder, phrase string) ([]float64, error) {
	if m.cacheSize > 0 {
		m.cacheMu.Lock()
		v, ok := m.cache[phrase]
		m.cacheMu.Unlock()
		if ok {
			return v, nil
		}
	}

	v, err := emb.Embed(ctx, phrase)
	if err != nil {
		return nil, err
	}

	if m.cacheSize > 0 {
		m.cacheMu.Lock()
		if len(m.cache) >= m.cacheSize {
			m.cache = make(map[string][]float64)
		}
		m.cache[phrase] = v
		m.cacheMu.Unlock()
	}
	return v, nil
}

// Cosine returns the cosine similarity of a and b. ok is false when the vectors differ
// in length or either has zero magnitude.
func Cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
