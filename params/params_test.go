package params

import (
	"flag"
	"testing"
)

func TestRegisterFlagsAndParse(t *testing.T) {
	var c TrainingConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	err := fs.Parse([]string{
		"--model_name_or_path", "facebook/bart-large",
		"--lr_scheduler", "cosine",
		"--learning_rate", "3e-5",
		"--max_target_length", "50",
		"--val_max_target_length", "60",
		"--fp16",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ModelNameOrPath != "facebook/bart-large" || c.LRScheduler != "cosine" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.LearningRate != 3e-5 || !c.Float16 {
		t.Fatalf("unexpected config: %+v", c)
	}
	// Untouched flags keep their defaults.
	if c.WeightDecay != 0.01 || c.TrainBatchSize != 32 {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate(t *testing.T) {
	base := func() TrainingConfig {
		return TrainingConfig{
			ModelNameOrPath: "m", LearningRate: 1e-4,
			TrainBatchSize: 1, EvalBatchSize: 1, MaxEpochs: 1, AccumGradBatches: 1,
			MaxSourceLength: 8, MaxTargetLength: 4,
			ValMaxTargetLength: 4, TestMaxTargetLength: 4,
		}
	}
	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}

	c := base()
	c.ModelNameOrPath = ""
	if c.Validate() == nil {
		t.Error("missing model name accepted")
	}
	c = base()
	c.LearningRate = 0
	if c.Validate() == nil {
		t.Error("zero learning rate accepted")
	}
	c = base()
	c.MaxEpochs = 0
	if c.Validate() == nil {
		t.Error("zero epochs accepted")
	}
	c = base()
	c.AccumGradBatches = 0
	if c.Validate() == nil {
		t.Error("zero accumulation accepted")
	}
}

func TestNameFallbacks(t *testing.T) {
	c := TrainingConfig{ModelNameOrPath: "model-id"}
	if c.ConfigOrModelName() != "model-id" || c.TokenizerOrModelName() != "model-id" {
		t.Fatal("fallback to model name failed")
	}
	c.ConfigName = "cfg-id"
	c.TokenizerName = "tok-id"
	if c.ConfigOrModelName() != "cfg-id" || c.TokenizerOrModelName() != "tok-id" {
		t.Fatal("explicit names ignored")
	}
}
