// Package finetune configures a fine-tuning run: it resolves the pretrained
// pieces, builds the optimizer and learning-rate schedule, and hands the
// actual training loop to the framework.
package finetune

import (
	"math"
	"strings"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/pkg/errors"

	"github.com/jordiclive/FLAN-summarizer/params"
)

// NoDecay lists parameter-name fragments excluded from weight decay: bias
// terms and normalization weights (gomlx layer norms call theirs gain/offset).
var NoDecay = []string{"bias", "layer_norm.weight", "gain", "offset"}

// DecaysWeight reports whether the named parameter belongs to the
// weight-decay group.
func DecaysWeight(name string) bool {
	for _, nd := range NoDecay {
		if strings.Contains(name, nd) {
			return false
		}
	}
	return true
}

// PartitionParams splits parameter names into the decayed and not-decayed
// optimizer groups.
func PartitionParams(names []string) (decay, noDecay []string) {
	for _, name := range names {
		if DecaysWeight(name) {
			decay = append(decay, name)
		} else {
			noDecay = append(noDecay, name)
		}
	}
	return decay, noDecay
}

// BuildOptimizer selects the base optimizer (plain SGD when the low-memory
// flag is set, Adam otherwise) and wraps it with grouped decoupled weight
// decay so excluded parameters stay decay-free.
func BuildOptimizer(hp *params.TrainingConfig) optimizers.Interface {
	var base optimizers.Interface
	if hp.LowMemOptimizer {
		base = optimizers.StochasticGradientDescent()
	} else {
		base = optimizers.Adam().
			LearningRate(hp.LearningRate).
			Epsilon(hp.AdamEpsilon).
			Done()
	}
	if hp.WeightDecay <= 0 {
		return base
	}
	return &groupedWeightDecay{inner: base, rate: hp.WeightDecay, baseLR: hp.LearningRate}
}

// groupedWeightDecay applies decoupled weight decay after the inner
// optimizer's update, but only to parameters in the decay group.
type groupedWeightDecay struct {
	inner  optimizers.Interface
	rate   float64
	baseLR float64
}

func (o *groupedWeightDecay) UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node) {
	o.inner.UpdateGraph(ctx, g, loss)
	// The factor is computed in-graph from the learning-rate variable, so it
	// tracks the schedule across steps of the same compiled graph.
	lr := optimizers.LearningRateVar(ctx, loss.DType(), o.baseLR).ValueGraph(g)
	factor := graph.OneMinus(graph.MulScalar(lr, o.rate))
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || !DecaysWeight(v.Scope()+"/"+v.Name()) {
			return
		}
		value := v.ValueGraph(g)
		v.SetValueGraph(graph.Mul(value, graph.ConvertDType(factor, value.DType())))
	})
}

func (o *groupedWeightDecay) Clear(ctx *context.Context) {
	o.inner.Clear(ctx)
}

// Cadence says how often a schedule advances.
type Cadence int

const (
	PerStep Cadence = iota
	PerEpoch
)

// Schedule maps an optimization step to a learning-rate multiplier in [0, 1].
type Schedule struct {
	Kind        string
	Cadence     Cadence
	WarmupSteps int
	TotalSteps  int
	fn          func(step int) float64
}

// Multiplier returns the factor to apply to the peak learning rate at step.
func (s *Schedule) Multiplier(step int) float64 {
	return s.fn(step)
}

// ScheduleBuilder constructs a schedule over warmup and total step counts.
type ScheduleBuilder func(warmupSteps, totalSteps int) *Schedule

// Schedulers is the schedule registry, injectable so tests can substitute.
type Schedulers map[string]ScheduleBuilder

// DefaultSchedulers returns the built-in schedule registry. Every schedule
// advances once per optimization step, never per epoch.
func DefaultSchedulers() Schedulers {
	return Schedulers{
		"linear":            newLinear,
		"cosine":            newCosine,
		"cosine_w_restarts": newCosineWithRestarts,
		"polynomial":        newPolynomial,
	}
}

// Build looks up kind and constructs its schedule.
func (s Schedulers) Build(kind string, warmupSteps, totalSteps int) (*Schedule, error) {
	builder, ok := s[kind]
	if !ok {
		return nil, errors.Errorf("finetune: unknown lr_scheduler %q", kind)
	}
	return builder(warmupSteps, totalSteps), nil
}

func warmup(step, warmupSteps int) (float64, bool) {
	if warmupSteps > 0 && step < warmupSteps {
		return float64(step) / float64(warmupSteps), true
	}
	return 1, false
}

// progress in [0, 1] through the post-warmup phase.
func progress(step, warmupSteps, totalSteps int) float64 {
	denom := totalSteps - warmupSteps
	if denom <= 0 {
		return 1
	}
	p := float64(step-warmupSteps) / float64(denom)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func newLinear(warmupSteps, totalSteps int) *Schedule {
	return &Schedule{
		Kind: "linear", Cadence: PerStep, WarmupSteps: warmupSteps, TotalSteps: totalSteps,
		fn: func(step int) float64 {
			if m, in := warmup(step, warmupSteps); in {
				return m
			}
			return 1 - progress(step, warmupSteps, totalSteps)
		},
	}
}

func newCosine(warmupSteps, totalSteps int) *Schedule {
	return &Schedule{
		Kind: "cosine", Cadence: PerStep, WarmupSteps: warmupSteps, TotalSteps: totalSteps,
		fn: func(step int) float64 {
			if m, in := warmup(step, warmupSteps); in {
				return m
			}
			return 0.5 * (1 + math.Cos(math.Pi*progress(step, warmupSteps, totalSteps)))
		},
	}
}

// newCosineWithRestarts runs one full cosine cycle per restart; the cycle
// count is fixed at two, matching the common hard-restarts setup.
func newCosineWithRestarts(warmupSteps, totalSteps int) *Schedule {
	const cycles = 2
	return &Schedule{
		Kind: "cosine_w_restarts", Cadence: PerStep, WarmupSteps: warmupSteps, TotalSteps: totalSteps,
		fn: func(step int) float64 {
			if m, in := warmup(step, warmupSteps); in {
				return m
			}
			p := progress(step, warmupSteps, totalSteps)
			if p >= 1 {
				return 0
			}
			return 0.5 * (1 + math.Cos(math.Pi*math.Mod(float64(cycles)*p, 1)))
		},
	}
}

// newPolynomial decays linearly (power 1.0) from the peak rate to zero.
func newPolynomial(warmupSteps, totalSteps int) *Schedule {
	const power = 1.0
	return &Schedule{
		Kind: "polynomial", Cadence: PerStep, WarmupSteps: warmupSteps, TotalSteps: totalSteps,
		fn: func(step int) float64 {
			if m, in := warmup(step, warmupSteps); in {
				return m
			}
			return math.Pow(1-progress(step, warmupSteps, totalSteps), power)
		},
	}
}
