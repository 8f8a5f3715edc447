// Package scoring implements the pluggable scoring framework (§4.6,
// component C6): a registry of named Scorer functions and a service that
// evaluates and ranks task sets.
//
// Grounded on §9's design note ("keep a variant/trait-object registry
// keyed by name; built-ins are instantiated on start; the registry is
// immutable after boot except through an explicit register call") and on
// the teacher's Table interface (pkg/types/table.go) for the
// name-keyed-registry idiom, generalized from a storage table lookup to a
// scorer lookup.
package scoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kaban-dev/kaban/pkg/types"
)

// Scorer is a named, pure, deterministic function from a task to a
// non-negative urgency score. Context lets an injected scorer (e.g.
// "blocking") perform a suspendable lookup (§5 "only the scorer's score
// is user-suspendable").
type Scorer interface {
	Name() string
	Description() string
	Score(ctx context.Context, task types.Task, now time.Time) (float64, error)
}

// Service holds an ordered, named set of active scorers and evaluates or
// ranks tasks against it.
type Service struct {
	order   []string
	scorers map[string]Scorer
}

func NewService() *Service {
	return &Service{scorers: map[string]Scorer{}}
}

// AddScorer registers s, appending to evaluation order if new, or
// replacing in place if name is already registered.
func (s *Service) AddScorer(scorer Scorer) {
	name := scorer.Name()
	if _, exists := s.scorers[name]; !exists {
		s.order = append(s.order, name)
	}
	s.scorers[name] = scorer
}

// RemoveScorer drops a scorer by name; a no-op if it is not registered.
func (s *Service) RemoveScorer(name string) {
	if _, exists := s.scorers[name]; !exists {
		return
	}
	delete(s.scorers, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ScoreTask evaluates every registered scorer in insertion order and sums
// the result, returning the per-scorer breakdown alongside the total.
func (s *Service) ScoreTask(ctx context.Context, task types.Task, now time.Time) (types.ScoredTask, error) {
	breakdown := make(map[string]float64, len(s.order))
	var total float64
	for _, name := range s.order {
		score, err := s.scorers[name].Score(ctx, task, now)
		if err != nil {
			return types.ScoredTask{}, err
		}
		breakdown[name] = score
		total += score
	}
	return types.ScoredTask{Task: task, Total: total, Breakdown: breakdown}, nil
}

// RankTasks scores every task and sorts the result by total descending,
// stable on ties (§4.6).
func (s *Service) RankTasks(ctx context.Context, tasks []types.Task, now time.Time) ([]types.ScoredTask, error) {
	ranked := make([]types.ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		scored, err := s.ScoreTask(ctx, t, now)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Total > ranked[j].Total
	})
	return ranked, nil
}

// --- built-in scorers ---

type fifoScorer struct{}

func (fifoScorer) Name() string        { return "fifo" }
func (fifoScorer) Description() string { return "days since creation; prevents starvation" }
func (fifoScorer) Score(_ context.Context, task types.Task, now time.Time) (float64, error) {
	days := now.Sub(task.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return days, nil
}

// NewFIFOScorer returns the built-in "fifo" scorer.
func NewFIFOScorer() Scorer { return fifoScorer{} }

var priorityWeights = map[string]float64{
	"critical": 1000, "p0": 1000,
	"urgent": 500, "p1": 500,
	"high": 100, "p2": 100,
	"medium": 50, "p3": 50,
	"low": 10, "p4": 10,
}

type priorityScorer struct{}

func (priorityScorer) Name() string        { return "priority" }
func (priorityScorer) Description() string { return "max weight of priority labels" }
func (priorityScorer) Score(_ context.Context, task types.Task, _ time.Time) (float64, error) {
	var best float64
	for _, label := range task.Labels {
		if w, ok := priorityWeights[strings.ToLower(label)]; ok && w > best {
			best = w
		}
	}
	return best, nil
}

// NewPriorityScorer returns the built-in "priority" scorer.
func NewPriorityScorer() Scorer { return priorityScorer{} }

type dueDateScorer struct{}

func (dueDateScorer) Name() string        { return "due-date" }
func (dueDateScorer) Description() string { return "urgency curve relative to due date" }
func (dueDateScorer) Score(_ context.Context, task types.Task, now time.Time) (float64, error) {
	if task.DueDate == nil {
		return 0, nil
	}
	days := task.DueDate.Sub(now).Hours() / 24
	switch {
	case days < 0:
		return 1000 + (-days)*10, nil
	case days <= 1:
		return 500, nil
	case days <= 7:
		return 100 + (7-days)*10, nil
	default:
		v := 50 - days
		if v < 0 {
			v = 0
		}
		return v, nil
	}
}

// NewDueDateScorer returns the built-in "due-date" scorer.
func NewDueDateScorer() Scorer { return dueDateScorer{} }

// BlockingCountFunc is injected from the dependency service (C4) so the
// scoring framework never imports it directly (§9: "ids as foreign keys;
// resolve lazily").
type BlockingCountFunc func(ctx context.Context, taskID string) (int, error)

type blockingScorer struct {
	count BlockingCountFunc
}

func (blockingScorer) Name() string        { return "blocking" }
func (blockingScorer) Description() string { return "50 points per task this one blocks" }
func (b blockingScorer) Score(ctx context.Context, task types.Task, _ time.Time) (float64, error) {
	n, err := b.count(ctx, task.ID)
	if err != nil {
		return 0, err
	}
	return float64(n) * 50, nil
}

// NewBlockingScorer returns the built-in "blocking" scorer, backed by an
// injected count function (kaban wires this to the dependency service's
// BlockingCount, per SPEC_FULL's named extension point).
func NewBlockingScorer(count BlockingCountFunc) Scorer {
	return blockingScorer{count: count}
}

// CombinedWeights configures NewCombinedScorer. Weights are used as given,
// so the zero value scores every task 0; DefaultCombinedWeights returns the
// board-level default (priority 0.5, due-date 0.3, fifo 0.2, blocking 0).
type CombinedWeights struct {
	Priority float64
	DueDate  float64
	FIFO     float64
	Blocking float64
}

// DefaultCombinedWeights is the default weight vector named in §4.6.
func DefaultCombinedWeights() CombinedWeights {
	return CombinedWeights{Priority: 0.5, DueDate: 0.3, FIFO: 0.2}
}

type combinedScorer struct {
	weights  CombinedWeights
	priority Scorer
	dueDate  Scorer
	fifo     Scorer
	blocking Scorer // nil when blocking is not part of the weight vector.
}

func (combinedScorer) Name() string        { return "combined" }
func (combinedScorer) Description() string { return "weighted sum of priority, due-date, fifo, blocking" }
func (c combinedScorer) Score(ctx context.Context, task types.Task, now time.Time) (float64, error) {
	p, err := c.priority.Score(ctx, task, now)
	if err != nil {
		return 0, err
	}
	d, err := c.dueDate.Score(ctx, task, now)
	if err != nil {
		return 0, err
	}
	f, err := c.fifo.Score(ctx, task, now)
	if err != nil {
		return 0, err
	}
	total := p*c.weights.Priority + d*c.weights.DueDate + f*c.weights.FIFO

	if c.blocking != nil && c.weights.Blocking != 0 {
		b, err := c.blocking.Score(ctx, task, now)
		if err != nil {
			return 0, err
		}
		total += b * c.weights.Blocking
	}
	return total, nil
}

// NewCombinedScorer returns the board-level default "combined" scorer.
// blocking may be nil if the blocking term is unused (weights.Blocking == 0).
func NewCombinedScorer(weights CombinedWeights, blocking BlockingCountFunc) Scorer {
	c := combinedScorer{
		weights:  weights,
		priority: priorityScorer{},
		dueDate:  dueDateScorer{},
		fifo:     fifoScorer{},
	}
	if blocking != nil {
		c.blocking = blockingScorer{count: blocking}
	}
	return c
}

// NewDefaultRegistry builds a Service with all five built-in scorers
// registered in the order named in §4.6, wired to count for the blocking
// term.
func NewDefaultRegistry(count BlockingCountFunc) *Service {
	s := NewService()
	s.AddScorer(NewFIFOScorer())
	s.AddScorer(NewPriorityScorer())
	s.AddScorer(NewDueDateScorer())
	s.AddScorer(NewBlockingScorer(count))
	s.AddScorer(NewCombinedScorer(DefaultCombinedWeights(), count))
	return s
}
