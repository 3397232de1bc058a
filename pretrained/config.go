// Package pretrained resolves model configs, tokenizers and models from the
// HuggingFace hub (or local files) for fine-tuning.
package pretrained

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/jordiclive/FLAN-summarizer/params"
)

// Config is the typed subset of a pretrained config.json this harness cares
// about. Pointer fields model attributes the architecture may not have: a nil
// pointer means the config does not expose that attribute.
type Config struct {
	ModelType             string `json:"model_type"`
	VocabSize             int    `json:"vocab_size"`
	DModel                int    `json:"d_model"`
	EncoderLayers         int    `json:"encoder_layers"`
	DecoderLayers         int    `json:"decoder_layers"`
	FFNDim                int    `json:"encoder_ffn_dim"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`

	Dropout          *float64 `json:"dropout,omitempty"`
	AttentionDropout *float64 `json:"attention_dropout,omitempty"`
	EncoderLayerdrop *float64 `json:"encoder_layerdrop,omitempty"`
	DecoderLayerdrop *float64 `json:"decoder_layerdrop,omitempty"`

	PadTokenID          int `json:"pad_token_id"`
	EOSTokenID          int `json:"eos_token_id"`
	DecoderStartTokenID int `json:"decoder_start_token_id"`
}

// OverrideError reports a hyperparameter override that names an attribute the
// resolved config does not expose.
type OverrideError struct {
	Attr string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("pretrained: model config doesn't have a %q attribute", e.Attr)
}

// LoadConfig parses a config.json from disk.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "pretrained")
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "pretrained: %s", path)
	}
	return &cfg, nil
}

// ApplyOverrides copies the dropout/layerdrop hyperparameters that are set
// (non-zero) onto the config. Overriding an attribute the config does not
// expose is a configuration error.
func (c *Config) ApplyOverrides(hp *params.TrainingConfig) error {
	overrides := []struct {
		attr  string
		value float64
		dst   *float64 // nil when the config lacks the attribute
	}{
		{"dropout", hp.Dropout, c.Dropout},
		{"attention_dropout", hp.AttentionDropout, c.AttentionDropout},
		{"encoder_layerdrop", hp.EncoderLayerdrop, c.EncoderLayerdrop},
		{"decoder_layerdrop", hp.DecoderLayerdrop, c.DecoderLayerdrop},
	}
	for _, o := range overrides {
		if o.value == 0 {
			continue
		}
		if o.dst == nil {
			return &OverrideError{Attr: o.attr}
		}
		*o.dst = o.value
	}
	return nil
}

// DropoutRate returns the effective dropout, 0 when the config has none.
func (c *Config) DropoutRate() float64 {
	if c.Dropout == nil {
		return 0
	}
	return *c.Dropout
}
