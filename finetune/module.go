package finetune

import (
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/jordiclive/FLAN-summarizer/params"
	"github.com/jordiclive/FLAN-summarizer/pretrained"
)

// Fail-fast configuration errors.
var (
	// ErrTargetLengths: the train target length may not exceed val or test.
	ErrTargetLengths = errors.New("finetune: train target length exceeds an eval target length")
	// ErrNoDataLoader: the task module never installed its DataLoader.
	ErrNoDataLoader = errors.New("finetune: DataLoader not set; the task module must provide one")
)

// DataLoaderFunc builds the dataset for one split. Task modules must install
// one; the base module deliberately has no idea where examples come from.
type DataLoaderFunc func(backend backends.Backend, split string, batchSize int, shuffle bool) (train.Dataset, error)

// BaseTransformer resolves the pretrained pieces and assembles everything the
// framework trainer needs. It owns no training loop of its own.
type BaseTransformer struct {
	HParams   *params.TrainingConfig
	Config    *pretrained.Config
	Tokenizer api.Tokenizer
	Model     pretrained.Model

	// DataLoader is the subclass contract: training without one is fatal.
	DataLoader DataLoaderFunc

	schedulers Schedulers
	modes      pretrained.Modes
	resolver   *pretrained.Resolver
	targetLens map[string]int
	dtype      dtypes.DType
}

// Option adjusts construction, mainly to supply pre-built collaborators.
type Option func(*BaseTransformer)

// WithConfig supplies a pre-built model config, skipping hub resolution.
func WithConfig(cfg *pretrained.Config) Option {
	return func(b *BaseTransformer) { b.Config = cfg }
}

// WithTokenizer supplies a pre-built tokenizer.
func WithTokenizer(tok api.Tokenizer) Option {
	return func(b *BaseTransformer) { b.Tokenizer = tok }
}

// WithModel supplies a pre-built model, skipping the mode registry.
func WithModel(m pretrained.Model) Option {
	return func(b *BaseTransformer) { b.Model = m }
}

// WithModes replaces the model-mode registry.
func WithModes(m pretrained.Modes) Option {
	return func(b *BaseTransformer) { b.modes = m }
}

// WithSchedulers replaces the learning-rate schedule registry.
func WithSchedulers(s Schedulers) Option {
	return func(b *BaseTransformer) { b.schedulers = s }
}

// WithResolver replaces the hub resolver.
func WithResolver(r *pretrained.Resolver) Option {
	return func(b *BaseTransformer) { b.resolver = r }
}

// NewBaseTransformer resolves config, tokenizer and model (anything not
// supplied explicitly is looked up by name) and validates the target-length
// configuration across splits.
func NewBaseTransformer(hp *params.TrainingConfig, opts ...Option) (*BaseTransformer, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	b := &BaseTransformer{
		HParams:    hp,
		schedulers: DefaultSchedulers(),
		modes:      pretrained.DefaultModes(),
		dtype:      dtypes.Float32,
	}
	if hp.Float16 {
		b.dtype = dtypes.Float16
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.resolver == nil {
		b.resolver = pretrained.NewResolver(hp.CacheDir)
	}

	var err error
	if b.Config == nil {
		if b.Config, err = b.resolver.Config(hp.ConfigOrModelName()); err != nil {
			return nil, err
		}
	}
	if err = b.Config.ApplyOverrides(hp); err != nil {
		return nil, err
	}
	if b.Tokenizer == nil {
		if b.Tokenizer, err = b.resolver.Tokenizer(hp.TokenizerOrModelName()); err != nil {
			return nil, err
		}
	}
	if b.Model == nil {
		if b.Model, err = b.modes.Build(hp.ModelMode, b.Config, b.dtype); err != nil {
			return nil, err
		}
	}

	b.targetLens = map[string]int{
		"train": hp.MaxTargetLength,
		"val":   hp.ValMaxTargetLength,
		"test":  hp.TestMaxTargetLength,
	}
	if b.targetLens["train"] > b.targetLens["val"] || b.targetLens["train"] > b.targetLens["test"] {
		return nil, errors.Wrapf(ErrTargetLengths, "target_lens: %v", b.targetLens)
	}
	return b, nil
}

// TargetLen is the maximum target length for a split.
func (b *BaseTransformer) TargetLen(split string) int {
	return b.targetLens[split]
}

// TotalSteps computes the number of optimizer steps a full run takes.
func (b *BaseTransformer) TotalSteps(numTrainExamples int) int {
	effectiveBatch := b.HParams.TrainBatchSize * b.HParams.AccumGradBatches
	stepsPerEpoch := (numTrainExamples + effectiveBatch - 1) / effectiveBatch
	return stepsPerEpoch * b.HParams.MaxEpochs
}

// ConfigureOptimizers builds the grouped optimizer and looks the schedule
// kind up in the registry.
func (b *BaseTransformer) ConfigureOptimizers(totalSteps int) (optimizers.Interface, *Schedule, error) {
	sched, err := b.schedulers.Build(b.HParams.LRScheduler, b.HParams.WarmupSteps, totalSteps)
	if err != nil {
		return nil, nil, err
	}
	return BuildOptimizer(b.HParams), sched, nil
}

// loader enforces the dataloader contract before use.
func (b *BaseTransformer) loader() (DataLoaderFunc, error) {
	if b.DataLoader == nil {
		return nil, errors.WithStack(ErrNoDataLoader)
	}
	return b.DataLoader, nil
}

// modelFn is what the framework trainer calls to build the forward graph.
// Inputs are (input ids, attention mask, target ids), matching the adapter's
// Yield; the target ids are the teacher-forcing decoder input.
func (b *BaseTransformer) modelFn(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	logits := b.Model.Forward(ctx, inputs[0], inputs[1], inputs[2])
	return []*graph.Node{logits}
}

// lossFn is the padding-masked cross entropy over target positions.
func (b *BaseTransformer) lossFn(labels, predictions []*graph.Node) *graph.Node {
	ids, mask := labels[0], labels[1]
	logits := predictions[0]
	vocab := logits.Shape().Dimensions[logits.Rank()-1]

	logProbs := graph.LogSoftmax(logits, -1)
	oneHot := graph.OneHot(ids, vocab, logProbs.DType())
	perToken := graph.Neg(graph.ReduceSum(graph.Mul(oneHot, logProbs), -1))
	maskF := graph.ConvertDType(mask, perToken.DType())
	total := graph.ReduceAllSum(graph.Mul(perToken, maskF))
	count := graph.AddScalar(graph.ReduceAllSum(maskF), 1e-6)
	return graph.Div(total, count)
}
