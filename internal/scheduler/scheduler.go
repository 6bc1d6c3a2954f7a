// Package scheduler maintains the persistent flash-loan plan queue
// (component H).
package scheduler

import (
	"fmt"
	"os"
	"sort"

	"github.com/kamino-liq/liqengine/internal/domain"
	"github.com/kamino-liq/liqengine/internal/solanaio"
)

// Queue is the in-memory, file-backed ordered plan queue.
type Queue struct {
	path  string
	plans map[string]domain.FlashloanPlan

	// SkipLogger receives "skip_incomplete_plan:<reason>" log lines, per
	// spec §4.H. Optional; nil disables logging.
	SkipLogger func(line string)
}

// NewQueue loads (or initializes empty) the queue persisted at path.
func NewQueue(path string) (*Queue, error) {
	q := &Queue{path: path, plans: make(map[string]domain.FlashloanPlan)}

	var stored []domain.FlashloanPlan
	if err := solanaio.ReadJSON(path, &stored); err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, fmt.Errorf("load queue %s: %w", path, err)
	}

	for _, p := range stored {
		if !p.HasRequiredFields() {
			q.log("skip_incomplete_plan:legacy_purge key=" + p.Key)
			continue
		}
		q.plans[p.Key] = p
	}
	return q, nil
}

func (q *Queue) log(line string) {
	if q.SkipLogger != nil {
		q.SkipLogger(line)
	}
}

// EnqueuePlans merges newPlans into the queue following spec §4.H's
// enqueuePlans algorithm: drop incomplete entries (existing and incoming),
// then merge by key, an incoming plan replacing the queued plan with the same
// key. Ordering is applied by Sorted, not here.
func (q *Queue) EnqueuePlans(newPlans []domain.FlashloanPlan) {
	for key, p := range q.plans {
		if !p.HasRequiredFields() {
			q.log("skip_incomplete_plan:existing_entry key=" + key)
			delete(q.plans, key)
		}
	}

	for _, p := range newPlans {
		if !p.HasRequiredFields() {
			q.log("skip_incomplete_plan:incoming key=" + p.Key)
			continue
		}
		q.plans[p.Key] = p
	}
}

// DowngradeBlockedPlan marks a plan as effectively de-prioritized without
// removing it, per spec §4.H.
func (q *Queue) DowngradeBlockedPlan(key string, reason string) bool {
	p, ok := q.plans[key]
	if !ok {
		return false
	}
	ttl := 999999.0
	p.TTLMin = &ttl
	if reason != "" {
		p.TTLStr = reason
	} else {
		p.TTLStr = "blocked-unknown"
	}
	p.LiquidationEligible = false
	q.plans[key] = p
	return true
}

// Sorted returns the queue's plans ordered per spec §4.H step 4:
// liquidation-eligible first, then EV desc, then ttlMin asc, then hazard
// desc.
func (q *Queue) Sorted() []domain.FlashloanPlan {
	out := make([]domain.FlashloanPlan, 0, len(q.plans))
	for _, p := range q.plans {
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b domain.FlashloanPlan) bool {
	if a.LiquidationEligible != b.LiquidationEligible {
		return a.LiquidationEligible
	}
	if a.EV != b.EV {
		return a.EV > b.EV
	}
	at, bt := ttlOrMax(a.TTLMin), ttlOrMax(b.TTLMin)
	if at != bt {
		return at < bt
	}
	return a.Hazard > b.Hazard
}

func ttlOrMax(ttl *float64) float64 {
	if ttl == nil {
		return 999999
	}
	return *ttl
}

// Save persists the queue atomically, in sorted order.
func (q *Queue) Save() error {
	return solanaio.WriteJSONAtomic(q.path, q.Sorted())
}

// Len reports the number of plans currently queued.
func (q *Queue) Len() int { return len(q.plans) }

// Get returns the plan for key, if present.
func (q *Queue) Get(key string) (domain.FlashloanPlan, bool) {
	p, ok := q.plans[key]
	return p, ok
}

// Remove deletes key from the queue.
func (q *Queue) Remove(key string) {
	delete(q.plans, key)
}
