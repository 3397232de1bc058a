package finetune

import (
	"testing"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"

	"github.com/jordiclive/FLAN-summarizer/params"
	"github.com/jordiclive/FLAN-summarizer/pretrained"
)

type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) []int                     { return []int{1} }
func (fakeTokenizer) Decode(ids []int) string                      { return "" }
func (fakeTokenizer) SpecialTokenID(api.SpecialToken) (int, error) { return 0, nil }

type fakeModel struct {
	forwards int
}

func (m *fakeModel) Forward(ctx *context.Context, inputIDs, attentionMask, targetIDs *graph.Node) *graph.Node {
	m.forwards++
	return nil
}

func f64(v float64) *float64 { return &v }

func testHParams() *params.TrainingConfig {
	return &params.TrainingConfig{
		ModelNameOrPath:     "facebook/bart-large",
		ModelMode:           "summarization",
		LearningRate:        5e-5,
		LRScheduler:         "linear",
		WeightDecay:         0.01,
		AdamEpsilon:         1e-8,
		TrainBatchSize:      4,
		EvalBatchSize:       4,
		MaxEpochs:           2,
		AccumGradBatches:    1,
		MaxSourceLength:     64,
		MaxTargetLength:     50,
		ValMaxTargetLength:  60,
		TestMaxTargetLength: 100,
	}
}

func testConfig() *pretrained.Config {
	return &pretrained.Config{
		ModelType: "bart", VocabSize: 128, DModel: 8,
		EncoderLayers: 1, DecoderLayers: 1,
		Dropout: f64(0.1),
	}
}

// newTestModule builds a base module with every collaborator supplied, so no
// hub access happens.
func newTestModule(t *testing.T, hp *params.TrainingConfig) (*BaseTransformer, error) {
	t.Helper()
	return NewBaseTransformer(hp,
		WithConfig(testConfig()),
		WithTokenizer(fakeTokenizer{}),
		WithModel(&fakeModel{}),
	)
}

func TestTargetLengthInvariant(t *testing.T) {
	hp := testHParams()
	hp.MaxTargetLength, hp.ValMaxTargetLength, hp.TestMaxTargetLength = 50, 40, 100
	if _, err := newTestModule(t, hp); !errors.Is(err, ErrTargetLengths) {
		t.Fatalf("train=50 val=40: got %v, want ErrTargetLengths", err)
	}

	hp = testHParams()
	hp.MaxTargetLength, hp.ValMaxTargetLength, hp.TestMaxTargetLength = 50, 100, 40
	if _, err := newTestModule(t, hp); !errors.Is(err, ErrTargetLengths) {
		t.Fatalf("train=50 test=40: got %v, want ErrTargetLengths", err)
	}

	hp = testHParams()
	hp.MaxTargetLength, hp.ValMaxTargetLength, hp.TestMaxTargetLength = 50, 60, 100
	b, err := newTestModule(t, hp)
	if err != nil {
		t.Fatalf("train=50 val=60 test=100: %v", err)
	}
	if b.TargetLen("train") != 50 || b.TargetLen("val") != 60 || b.TargetLen("test") != 100 {
		t.Fatalf("target lens %v", b.targetLens)
	}
}

func TestOverridePlumbing(t *testing.T) {
	hp := testHParams()
	hp.Dropout = 0.25
	b, err := newTestModule(t, hp)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Config.DropoutRate(); got != 0.25 {
		t.Fatalf("dropout = %g, want 0.25", got)
	}

	// Overriding an attribute the config lacks fails construction.
	hp = testHParams()
	hp.DecoderLayerdrop = 0.1
	if _, err := newTestModule(t, hp); err == nil {
		t.Fatal("expected override error for decoder_layerdrop")
	}
}

// modelFn must consume exactly the three inputs the dataset adapter yields:
// source ids, source mask and the teacher-forcing target ids.
func TestModelFnInputs(t *testing.T) {
	model := &fakeModel{}
	hp := testHParams()
	b, err := NewBaseTransformer(hp,
		WithConfig(testConfig()),
		WithTokenizer(fakeTokenizer{}),
		WithModel(model),
	)
	if err != nil {
		t.Fatal(err)
	}
	outputs := b.modelFn(nil, nil, make([]*graph.Node, 3))
	if len(outputs) != 1 {
		t.Fatalf("modelFn returned %d outputs, want 1", len(outputs))
	}
	if model.forwards != 1 {
		t.Fatalf("model forwarded %d times, want 1", model.forwards)
	}
}

func TestDataLoaderContract(t *testing.T) {
	b, err := newTestModule(t, testHParams())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.loader(); !errors.Is(err, ErrNoDataLoader) {
		t.Fatalf("got %v, want ErrNoDataLoader", err)
	}
}

func TestTotalSteps(t *testing.T) {
	hp := testHParams()
	hp.TrainBatchSize, hp.AccumGradBatches, hp.MaxEpochs = 8, 2, 3
	b, err := newTestModule(t, hp)
	if err != nil {
		t.Fatal(err)
	}
	// 100 examples / effective batch 16 -> 7 steps per epoch, 3 epochs.
	if got := b.TotalSteps(100); got != 21 {
		t.Fatalf("TotalSteps(100) = %d, want 21", got)
	}
}

func TestConfigureOptimizersUnknownScheduler(t *testing.T) {
	hp := testHParams()
	hp.LRScheduler = "exponential"
	b, err := newTestModule(t, hp)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.ConfigureOptimizers(1000); err == nil {
		t.Fatal("expected error for unknown scheduler kind")
	}
}

func TestInjectedSchedulerRegistry(t *testing.T) {
	hp := testHParams()
	hp.LRScheduler = "constant"
	constant := Schedulers{
		"constant": func(warmupSteps, totalSteps int) *Schedule {
			return &Schedule{Kind: "constant", Cadence: PerStep,
				fn: func(step int) float64 { return 1 }}
		},
	}
	b, err := NewBaseTransformer(hp,
		WithConfig(testConfig()),
		WithTokenizer(fakeTokenizer{}),
		WithModel(&fakeModel{}),
		WithSchedulers(constant),
	)
	if err != nil {
		t.Fatal(err)
	}
	_, sched, err := b.ConfigureOptimizers(10)
	if err != nil {
		t.Fatal(err)
	}
	if sched.Kind != "constant" || sched.Multiplier(5) != 1 {
		t.Fatalf("unexpected schedule %+v", sched)
	}
}
