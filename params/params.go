// Package params holds the flat hyperparameter set for a fine-tuning run.
// It is built once from CLI flags at process start and read-only afterwards.
package params

import (
	"flag"

	"github.com/pkg/errors"
)

// TrainingConfig collects every knob of a run. Zero values on the dropout
// overrides mean "keep whatever the pretrained config says".
type TrainingConfig struct {
	// Pretrained identifiers
	ModelNameOrPath string
	ConfigName      string // defaults to ModelNameOrPath
	TokenizerName   string // defaults to ModelNameOrPath; may be a local tokenizer.json
	CacheDir        string
	ModelMode       string // key into the model-mode registry

	// Optional config overrides (0 = not set)
	Dropout          float64
	AttentionDropout float64
	EncoderLayerdrop float64
	DecoderLayerdrop float64

	// Optimization
	LearningRate    float64
	LRScheduler     string
	WeightDecay     float64
	AdamEpsilon     float64
	WarmupSteps     int
	LowMemOptimizer bool // plain SGD instead of Adam; far less optimizer state
	GradClip        float64
	AccumGradBatches int

	// Batching / epochs
	TrainBatchSize int
	EvalBatchSize  int
	MaxEpochs      int
	NumWorkers     int

	// Sequence lengths
	MaxSourceLength     int
	MaxTargetLength     int
	ValMaxTargetLength  int
	TestMaxTargetLength int

	// Data & checkpoints
	DataDir        string
	OutputDir      string
	SaveEverySteps int
	Resume         string
	MaxSamples     int // pre-slice each split to this many examples (0 = all)

	// Run control
	Backend    string // accelerator/strategy config handed to the framework backend
	Float16    bool
	LoggerName string // "progress" or "none"
	Seed       int64
	DebugMode  bool
	DoTrain    bool
	DoPredict  bool
	PrintText  bool
}

// RegisterFlags wires every field onto fs with the conventional flag names.
func (c *TrainingConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ModelNameOrPath, "model_name_or_path", "", "Pretrained model id or local path")
	fs.StringVar(&c.ConfigName, "config_name", "", "Pretrained config name/path if different from model")
	fs.StringVar(&c.TokenizerName, "tokenizer_name", "", "Pretrained tokenizer name/path if different from model")
	fs.StringVar(&c.CacheDir, "cache_dir", "", "Cache directory for hub downloads")
	fs.StringVar(&c.ModelMode, "model_mode", "summarization", "Model mode (registry key)")

	fs.Float64Var(&c.Dropout, "dropout", 0, "Dropout override (0 keeps pretrained value)")
	fs.Float64Var(&c.AttentionDropout, "attention_dropout", 0, "Attention dropout override")
	fs.Float64Var(&c.EncoderLayerdrop, "encoder_layerdrop", 0, "Encoder layerdrop override")
	fs.Float64Var(&c.DecoderLayerdrop, "decoder_layerdrop", 0, "Decoder layerdrop override")

	fs.Float64Var(&c.LearningRate, "learning_rate", 5e-5, "Peak learning rate")
	fs.StringVar(&c.LRScheduler, "lr_scheduler", "linear", "LR schedule kind (linear, cosine, cosine_w_restarts, polynomial)")
	fs.Float64Var(&c.WeightDecay, "weight_decay", 0.01, "Decoupled weight decay")
	fs.Float64Var(&c.AdamEpsilon, "adam_epsilon", 1e-8, "Adam epsilon")
	fs.IntVar(&c.WarmupSteps, "warmup_steps", 500, "LR warmup steps")
	fs.BoolVar(&c.LowMemOptimizer, "low_mem_optimizer", false, "Use SGD instead of Adam to save optimizer memory")
	fs.Float64Var(&c.GradClip, "max_grad_norm", 1.0, "Clip optimizer step magnitude (<=0 disables)")
	fs.IntVar(&c.AccumGradBatches, "gradient_accumulation_steps", 1, "Batches folded into one optimizer step")

	fs.IntVar(&c.TrainBatchSize, "train_batch_size", 32, "Train batch size")
	fs.IntVar(&c.EvalBatchSize, "eval_batch_size", 32, "Eval batch size")
	fs.IntVar(&c.MaxEpochs, "num_train_epochs", 10, "Training epochs")
	fs.IntVar(&c.NumWorkers, "num_workers", 4, "Parallel data-loading workers")

	fs.IntVar(&c.MaxSourceLength, "max_source_length", 1024, "Source tokens per example")
	fs.IntVar(&c.MaxTargetLength, "max_target_length", 56, "Target tokens per train example")
	fs.IntVar(&c.ValMaxTargetLength, "val_max_target_length", 142, "Target tokens per val example")
	fs.IntVar(&c.TestMaxTargetLength, "test_max_target_length", 142, "Target tokens per test example")

	fs.StringVar(&c.DataDir, "data_dir", "data", "Directory with train/val/test split files")
	fs.StringVar(&c.OutputDir, "output_dir", "output", "Checkpoint/output directory")
	fs.IntVar(&c.SaveEverySteps, "save_every_steps", 1000, "Checkpoint every N optimizer steps (0 = end of training only)")
	fs.StringVar(&c.Resume, "resume_from_checkpoint", "", "Checkpoint directory to resume from")
	fs.IntVar(&c.MaxSamples, "max_samples", 0, "Cap each split at N examples (0 = all)")

	fs.StringVar(&c.Backend, "backend", "", "Framework backend/strategy config (empty = default)")
	fs.BoolVar(&c.Float16, "fp16", false, "Train in float16")
	fs.StringVar(&c.LoggerName, "logger_name", "progress", "Training logger (progress, none)")
	fs.Int64Var(&c.Seed, "seed", 42, "Random seed")
	fs.BoolVar(&c.DebugMode, "debug_mode", false, "Limit train/val batches for a quick smoke run")
	fs.BoolVar(&c.DoTrain, "do_train", true, "Run training")
	fs.BoolVar(&c.DoPredict, "do_predict", false, "Evaluate on the test split after training")
	fs.BoolVar(&c.PrintText, "print_text", false, "Log cleaned input text while encoding")
}

// Validate rejects configurations that cannot possibly train.
func (c *TrainingConfig) Validate() error {
	if c.ModelNameOrPath == "" {
		return errors.New("params: model_name_or_path is required")
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("params: learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.TrainBatchSize <= 0 || c.EvalBatchSize <= 0 {
		return errors.New("params: batch sizes must be positive")
	}
	if c.MaxEpochs <= 0 {
		return errors.Errorf("params: num_train_epochs must be positive, got %d", c.MaxEpochs)
	}
	if c.AccumGradBatches < 1 {
		return errors.Errorf("params: gradient_accumulation_steps must be >= 1, got %d", c.AccumGradBatches)
	}
	if c.MaxSourceLength <= 0 || c.MaxTargetLength <= 0 ||
		c.ValMaxTargetLength <= 0 || c.TestMaxTargetLength <= 0 {
		return errors.New("params: sequence lengths must be positive")
	}
	return nil
}

// ConfigOrModelName returns the identifier to resolve the config from.
func (c *TrainingConfig) ConfigOrModelName() string {
	if c.ConfigName != "" {
		return c.ConfigName
	}
	return c.ModelNameOrPath
}

// TokenizerOrModelName returns the identifier to resolve the tokenizer from.
func (c *TrainingConfig) TokenizerOrModelName() string {
	if c.TokenizerName != "" {
		return c.TokenizerName
	}
	return c.ModelNameOrPath
}
