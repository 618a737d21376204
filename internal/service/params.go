package service

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// Query classes. Short factual questions reward exact and dense matching;
// long analytical ones lean on sparse term coverage.
const (
	ClassShortFactual   = "short_factual"
	ClassLongAnalytical = "long_analytical"
)

const shortQueryMaxWords = 8

// ClassifyQuery assigns a query to a weight class by length.
func ClassifyQuery(query string) string {
	if len(strings.Fields(query)) <= shortQueryMaxWords {
		return ClassShortFactual
	}
	return ClassLongAnalytical
}

// ParamConfig tunes the adaptive weight updates.
type ParamConfig struct {
	Step       float64 // per-feedback weight delta
	Min        float64 // weight clamp floor
	Max        float64 // weight clamp ceiling
	BlendRatio float64
	RRFK       int
	DenseFloor float64
	FuzzyFloor float64
}

// classEntry holds one class's weights. Readers load the snapshot pointer;
// writers serialize on mu and swap in a clone.
type classEntry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[model.FusionWeights]
}

// ParamStore holds FusionWeights per query class. Reads are lock-free
// snapshot loads; feedback updates are copy-on-write, serialized per class.
type ParamStore struct {
	cfg     ParamConfig
	classes map[string]*classEntry
}

// NewParamStore seeds every query class with its default weights.
func NewParamStore(cfg ParamConfig) *ParamStore {
	s := &ParamStore{
		cfg:     cfg,
		classes: make(map[string]*classEntry, 2),
	}
	for class, weights := range map[string]map[model.Method]float64{
		ClassShortFactual: {
			model.MethodDense:   1.2,
			model.MethodSparse:  0.8,
			model.MethodPattern: 1.0,
			model.MethodFuzzy:   0.8,
		},
		ClassLongAnalytical: {
			model.MethodDense:   1.0,
			model.MethodSparse:  1.2,
			model.MethodPattern: 0.6,
			model.MethodFuzzy:   0.8,
		},
	} {
		entry := &classEntry{}
		entry.snapshot.Store(&model.FusionWeights{
			Class:   class,
			Version: 1,
			Weights: weights,
			MinSimilarity: map[model.Method]float64{
				model.MethodDense: cfg.DenseFloor,
				model.MethodFuzzy: cfg.FuzzyFloor,
			},
			BlendRatio: cfg.BlendRatio,
			RRFK:       cfg.RRFK,
		})
		s.classes[class] = entry
	}
	return s
}

// Snapshot returns the current weights for a class. Unknown classes fall
// back to long-analytical. The returned value must not be mutated.
func (s *ParamStore) Snapshot(class string) *model.FusionWeights {
	entry, ok := s.classes[class]
	if !ok {
		entry = s.classes[ClassLongAnalytical]
	}
	return entry.snapshot.Load()
}

// ApplyFeedback nudges the weights of the methods that surfaced the chunk:
// up on positive feedback, down on negative, clamped to [Min, Max]. The
// update is copy-on-write so in-flight readers keep their snapshot.
func (s *ParamStore) ApplyFeedback(sig model.FeedbackSignal) {
	entry, ok := s.classes[sig.QueryClass]
	if !ok {
		slog.Warn("feedback for unknown query class", "class", sig.QueryClass, "event_id", sig.EventID)
		return
	}

	delta := s.cfg.Step
	if !sig.Positive {
		delta = -delta
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.snapshot.Load().Clone()
	next.Version++
	for _, m := range sig.Methods {
		w, ok := next.Weights[m]
		if !ok {
			continue
		}
		w += delta
		if w < s.cfg.Min {
			w = s.cfg.Min
		}
		if w > s.cfg.Max {
			w = s.cfg.Max
		}
		next.Weights[m] = w
	}
	entry.snapshot.Store(next)

	slog.Debug("fusion weights updated",
		"class", sig.QueryClass,
		"version", next.Version,
		"positive", sig.Positive,
		"methods", sig.Methods,
	)
}

// FeedbackProcessor consumes feedback signals on a worker pool so weight
// updates never block request delivery.
type FeedbackProcessor struct {
	store *ParamStore
	pool  *ants.Pool
}

// NewFeedbackProcessor starts the worker pool.
func NewFeedbackProcessor(store *ParamStore, workers int) (*FeedbackProcessor, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &FeedbackProcessor{store: store, pool: pool}, nil
}

// Submit queues one feedback signal. When the pool is saturated the signal
// is dropped; feedback is advisory and must never apply backpressure.
func (p *FeedbackProcessor) Submit(sig model.FeedbackSignal) {
	err := p.pool.Submit(func() {
		p.store.ApplyFeedback(sig)
	})
	if err != nil {
		slog.Warn("feedback dropped", "event_id", sig.EventID, "error", err)
	}
}

// Close releases the worker pool.
func (p *FeedbackProcessor) Close() {
	p.pool.Release()
}
