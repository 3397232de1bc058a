package pretrained

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"

	"github.com/jordiclive/FLAN-summarizer/params"
)

func f64(v float64) *float64 { return &v }

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		VocabSize: 100,
		DModel:    8,
		Dropout:   f64(0.1),
		// no layerdrop attributes, like t5-style configs
	}

	hp := &params.TrainingConfig{Dropout: 0.3}
	if err := cfg.ApplyOverrides(hp); err != nil {
		t.Fatal(err)
	}
	if *cfg.Dropout != 0.3 {
		t.Fatalf("dropout = %g, want 0.3", *cfg.Dropout)
	}

	// Unset overrides leave the config alone.
	if err := cfg.ApplyOverrides(&params.TrainingConfig{}); err != nil {
		t.Fatal(err)
	}
	if *cfg.Dropout != 0.3 {
		t.Fatalf("dropout changed to %g by empty overrides", *cfg.Dropout)
	}
}

func TestApplyOverridesUnknownAttribute(t *testing.T) {
	cfg := &Config{VocabSize: 100, DModel: 8, Dropout: f64(0.1)}
	hp := &params.TrainingConfig{EncoderLayerdrop: 0.05}
	err := cfg.ApplyOverrides(hp)
	var oe *OverrideError
	if !errors.As(err, &oe) {
		t.Fatalf("got %v, want OverrideError", err)
	}
	if oe.Attr != "encoder_layerdrop" {
		t.Fatalf("OverrideError.Attr = %q", oe.Attr)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	raw := `{
  "model_type": "bart",
  "vocab_size": 50265,
  "d_model": 1024,
  "encoder_layers": 12,
  "decoder_layers": 12,
  "dropout": 0.1,
  "attention_dropout": 0.1,
  "pad_token_id": 1,
  "eos_token_id": 2,
  "decoder_start_token_id": 2
}`
	path := filepath.Join(dir, "config.json")
	must.M(os.WriteFile(path, []byte(raw), 0o644))
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ModelType != "bart" || cfg.VocabSize != 50265 || cfg.DModel != 1024 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Dropout == nil || *cfg.Dropout != 0.1 {
		t.Fatal("dropout not parsed")
	}
	if cfg.EncoderLayerdrop != nil {
		t.Fatal("absent encoder_layerdrop should stay nil")
	}
}

func TestModesBuild(t *testing.T) {
	modes := DefaultModes()
	cfg := &Config{VocabSize: 64, DModel: 8, EncoderLayers: 1, DecoderLayers: 1}
	for _, mode := range []string{"summarization", "translation"} {
		if _, err := modes.Build(mode, cfg, dtypes.Float32); err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
	}
	if _, err := modes.Build("question-answering", cfg, dtypes.Float32); err == nil {
		t.Fatal("expected error for unregistered mode")
	}
}
