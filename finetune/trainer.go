package finetune

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/jordiclive/FLAN-summarizer/datasets"
	"github.com/jordiclive/FLAN-summarizer/params"
)

// Debug-mode batch limits, matching the usual quick smoke-run setup.
const (
	debugTrainBatches = 20
	debugEvalBatches  = 2
)

// newTrainContext builds the variable container seeded for the run.
// max_grad_norm maps onto the framework's per-step clipping knob.
func newTrainContext(hp *params.TrainingConfig) *context.Context {
	ctx := context.New()
	ctx.RngStateFromSeed(hp.Seed)
	if hp.GradClip > 0 {
		ctx.SetParam(optimizers.ParamClipStepByValue, hp.GradClip)
	}
	return ctx
}

// setLearningRate writes lr into the optimizer's learning-rate variable.
// The compiled step graph reads the variable, not the context param, so
// schedule updates must land here.
func setLearningRate(lrVar *context.Variable, dtype dtypes.DType, lr float64) {
	lrVar.SetValue(tensors.FromAnyValue(shapes.CastAsDType(lr, dtype)))
}

// stageResume copies checkpoint files from the resume directory into the
// output directory so the handler loads them from there and new checkpoints
// keep landing in output_dir. Files already present in output win.
func stageResume(resumeDir, outputDir string) error {
	entries, err := os.ReadDir(resumeDir)
	if err != nil {
		return errors.Wrapf(err, "finetune: resume from %s", resumeDir)
	}
	for _, entry := range entries {
		src := filepath.Join(resumeDir, entry.Name())
		dst := filepath.Join(outputDir, entry.Name())
		if entry.IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return errors.Wrap(err, "finetune: resume")
			}
			if err := stageResume(src, dst); err != nil {
				return err
			}
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return errors.Wrap(err, "finetune: resume")
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errors.Wrap(err, "finetune: resume")
		}
	}
	return nil
}

// setupCheckpoints attaches the checkpoint handler rooted at output_dir,
// staging the resume directory's files into it first when resuming.
func setupCheckpoints(ctx *context.Context, hp *params.TrainingConfig) (*checkpoints.Handler, error) {
	if hp.OutputDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(hp.OutputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "finetune")
	}
	if hp.Resume != "" && hp.Resume != hp.OutputDir {
		if err := stageResume(hp.Resume, hp.OutputDir); err != nil {
			return nil, err
		}
	}
	checkpoint, err := checkpoints.Build(ctx).Dir(hp.OutputDir).Keep(3).Done()
	if err != nil {
		return nil, errors.Wrap(err, "finetune: checkpoints")
	}
	return checkpoint, nil
}

// Train assembles the trainer configuration and delegates the whole run loop
// (devices, autograd, checkpoint persistence) to the framework. It blocks
// until training finishes or fails.
func Train(m *SummarizationModule) error {
	hp := m.HParams
	loader, err := m.loader()
	if err != nil {
		return err
	}

	ctx := newTrainContext(hp)
	var backend backends.Backend
	if hp.Backend != "" {
		backend = backends.NewWithConfig(hp.Backend)
	} else {
		backend = backends.New()
	}

	checkpoint, err := setupCheckpoints(ctx, hp)
	if err != nil {
		return err
	}

	// Gradient accumulation is folded into the batch the loader produces.
	trainBatch := hp.TrainBatchSize * hp.AccumGradBatches
	trainDS, err := loader(backend, "train", trainBatch, true)
	if err != nil {
		return err
	}
	valDS, err := loader(backend, "val", hp.EvalBatchSize, false)
	if err != nil {
		return err
	}
	if hp.DebugMode {
		trainDS = datasets.Take(trainDS, debugTrainBatches)
		valDS = datasets.Take(valDS, debugEvalBatches)
	}

	numTrain, err := m.NumTrainExamples()
	if err != nil {
		return err
	}
	totalSteps := m.TotalSteps(numTrain)
	opt, sched, err := m.ConfigureOptimizers(totalSteps)
	if err != nil {
		return err
	}

	// Create the learning-rate variable before the first graph build so the
	// optimizer picks it up, then drive it from the schedule.
	lrVar := optimizers.LearningRateVar(ctx, m.dtype, hp.LearningRate)
	setLearningRate(lrVar, m.dtype, hp.LearningRate*sched.Multiplier(0))

	trainer := train.NewTrainer(backend, ctx, m.modelFn, m.lossFn, opt, nil, nil)
	loop := train.NewLoop(trainer)
	if hp.LoggerName == "progress" {
		commandline.AttachProgressBar(loop)
	}

	// The schedule advances once per optimization step.
	train.EveryNSteps(loop, 1, "lr schedule", 0,
		func(loop *train.Loop, metrics []*tensors.Tensor) error {
			setLearningRate(lrVar, m.dtype, hp.LearningRate*sched.Multiplier(int(loop.LoopStep)))
			return nil
		})
	if checkpoint != nil && hp.SaveEverySteps > 0 {
		train.EveryNSteps(loop, hp.SaveEverySteps, "checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	if hp.DoTrain {
		klog.Infof("training %d epochs (~%d optimizer steps, %s schedule)",
			hp.MaxEpochs, totalSteps, sched.Kind)
		if _, err := loop.RunEpochs(trainDS, hp.MaxEpochs); err != nil {
			return errors.Wrap(err, "finetune: training")
		}
		if checkpoint != nil {
			if err := checkpoint.Save(); err != nil {
				return errors.Wrap(err, "finetune: final checkpoint")
			}
		}
	}

	valLoss, err := m.Validate(trainer, valDS)
	if err != nil {
		return err
	}
	klog.Infof("val_loss: %.4f", valLoss)

	if hp.DoPredict {
		testDS, err := loader(backend, "test", hp.EvalBatchSize, false)
		if err != nil {
			return err
		}
		testLoss, err := m.Test(trainer, testDS)
		if err != nil {
			return err
		}
		klog.Infof("test_loss: %.4f", testLoss)
	}
	return nil
}

// evalStepper is the slice of the framework trainer the eval loop needs.
type evalStepper interface {
	EvalStep(spec any, inputs, labels []*tensors.Tensor) []*tensors.Tensor
}

// Validate runs the shared evaluation step over a dataset and returns the
// mask-weighted mean loss.
func (b *BaseTransformer) Validate(stepper evalStepper, ds train.Dataset) (float64, error) {
	ds.Reset()
	var sum float64
	var batches int
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "finetune: eval")
		}
		metrics := stepper.EvalStep(spec, inputs, labels)
		if len(metrics) > 0 {
			sum += scalarFloat(metrics[0])
			batches++
		}
	}
	if batches == 0 {
		return math.NaN(), nil
	}
	return sum / float64(batches), nil
}

// Test reuses the validation step logic on the test split.
func (b *BaseTransformer) Test(stepper evalStepper, ds train.Dataset) (float64, error) {
	return b.Validate(stepper, ds)
}

func scalarFloat(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return math.NaN()
}
