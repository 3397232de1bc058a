package finetune

import (
	"github.com/gomlx/gomlx/backends"
	mldata "github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"

	"github.com/jordiclive/FLAN-summarizer/datasets"
	"github.com/jordiclive/FLAN-summarizer/params"
)

// SummarizationModule is the headline-generation task module: it knows where
// the split files live and how to turn them into batched datasets.
type SummarizationModule struct {
	*BaseTransformer
	splits map[string][]datasets.Example
}

// NewSummarizationModule builds the base module and installs the dataloader.
func NewSummarizationModule(hp *params.TrainingConfig, opts ...Option) (*SummarizationModule, error) {
	base, err := NewBaseTransformer(hp, opts...)
	if err != nil {
		return nil, err
	}
	m := &SummarizationModule{
		BaseTransformer: base,
		splits:          make(map[string][]datasets.Example),
	}
	base.DataLoader = m.buildDataLoader
	return m, nil
}

// examples loads and caches one split, pre-sliced to max_samples. Slicing
// happens here, before the adapter ever sees the examples.
func (m *SummarizationModule) examples(split string) ([]datasets.Example, error) {
	if cached, ok := m.splits[split]; ok {
		return cached, nil
	}
	examples, err := datasets.LoadSplit(m.HParams.DataDir, split, m.HParams.MaxSamples)
	if err != nil {
		return nil, err
	}
	m.splits[split] = examples
	return examples, nil
}

// NumTrainExamples is used to compute total optimizer steps.
func (m *SummarizationModule) NumTrainExamples() (int, error) {
	examples, err := m.examples("train")
	if err != nil {
		return 0, err
	}
	return len(examples), nil
}

// buildDataLoader satisfies the base module's DataLoader contract.
func (m *SummarizationModule) buildDataLoader(backend backends.Backend, split string, batchSize int, shuffle bool) (train.Dataset, error) {
	examples, err := m.examples(split)
	if err != nil {
		return nil, err
	}
	adapter, err := datasets.NewAdapter(split, examples, m.Tokenizer,
		m.HParams.MaxSourceLength, m.TargetLen(split), m.HParams.Seed, shuffle, m.HParams.PrintText)
	if err != nil {
		return nil, err
	}
	adapter.LogStats()

	var ds train.Dataset = adapter
	if m.HParams.NumWorkers > 1 {
		ds = mldata.CustomParallel(ds).
			Parallelism(m.HParams.NumWorkers).
			Buffer(m.HParams.NumWorkers).
			Start()
	}
	// Incomplete trailing batches are dropped in training only.
	return mldata.Batch(backend, ds, batchSize, true, shuffle), nil
}
