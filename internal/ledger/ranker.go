package ledger

import (
	"sync"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// ranker keeps decayed moving-average success rates per (rule, action).
// Recent outcomes weigh higher, so an action that used to work but now
// consistently fails is demoted without manual tuning.
type ranker struct {
	mu    sync.RWMutex
	decay float64
	rates map[string]float64
}

func newRanker(decay float64) *ranker {
	if decay <= 0 || decay > 1 {
		decay = 0.3
	}
	return &ranker{
		decay: decay,
		rates: make(map[string]float64),
	}
}

func rateKey(rule, action string) string {
	return rule + "\x00" + action
}

// observe folds one outcome into the moving average.
func (r *ranker) observe(rule, action string, outcome models.AttemptOutcome) {
	value := 0.0
	if outcome == models.OutcomeSuccess {
		value = 1.0
	}

	key := rateKey(rule, action)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.rates[key]
	if !ok {
		r.rates[key] = value
		return
	}
	r.rates[key] = r.decay*value + (1-r.decay)*prev
}

func (r *ranker) successRate(rule, action string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[rateKey(rule, action)]
	return rate, ok
}
