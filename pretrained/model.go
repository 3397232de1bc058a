package pretrained

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Model is the graph-building contract the trainer consumes: given one batch
// of encoded examples it returns logits shaped [batch, targetLen, vocab].
// Weights live in the context, so the framework's autograd, devices and
// checkpointing all apply without the harness knowing about them.
type Model interface {
	Forward(ctx *context.Context, inputIDs, attentionMask, targetIDs *graph.Node) *graph.Node
}

// Builder constructs a model for a resolved config.
type Builder func(cfg *Config, dtype dtypes.DType) (Model, error)

// Modes maps a model-mode name to its builder. Callers get their own copy and
// may swap entries, e.g. to substitute a fake in tests.
type Modes map[string]Builder

// DefaultModes returns the built-in mode registry.
func DefaultModes() Modes {
	return Modes{
		"summarization": NewConditionalGeneration,
		"translation":   NewConditionalGeneration,
	}
}

// Build looks a mode up and constructs its model.
func (m Modes) Build(mode string, cfg *Config, dtype dtypes.DType) (Model, error) {
	builder, ok := m[mode]
	if !ok {
		return nil, errors.Errorf("pretrained: unknown model mode %q", mode)
	}
	return builder(cfg, dtype)
}

// condGen is a compact conditional-generation network: shared embeddings, a
// feed-forward encoder over masked-mean-pooled source states and a
// teacher-forced decoder projecting to the vocabulary. Importing converted
// pretrained weights into the context is the hub tooling's job, not ours.
type condGen struct {
	cfg   *Config
	dtype dtypes.DType
}

// NewConditionalGeneration validates the config and returns the model.
func NewConditionalGeneration(cfg *Config, dtype dtypes.DType) (Model, error) {
	if cfg.VocabSize <= 0 {
		return nil, errors.Errorf("pretrained: config has vocab_size %d", cfg.VocabSize)
	}
	if cfg.DModel <= 0 {
		return nil, errors.Errorf("pretrained: config has d_model %d", cfg.DModel)
	}
	if cfg.FFNDim <= 0 {
		cfg.FFNDim = 4 * cfg.DModel
	}
	return &condGen{cfg: cfg, dtype: dtype}, nil
}

func (m *condGen) Forward(ctx *context.Context, inputIDs, attentionMask, targetIDs *graph.Node) *graph.Node {
	ctx.SetParam(layers.ParamDropoutRate, m.cfg.DropoutRate())

	// Shared source/target embedding table.
	embedCtx := ctx.In("shared")
	src := layers.Embedding(embedCtx, inputIDs, m.dtype, m.cfg.VocabSize, m.cfg.DModel)
	mask := graph.ConvertDType(graph.InsertAxes(attentionMask, -1), m.dtype)

	hidden := graph.Mul(src, mask)
	encCtx := ctx.In("encoder")
	for i := 0; i < max(m.cfg.EncoderLayers, 1); i++ {
		hidden = m.block(encCtx.Inf("layer_%d", i), hidden)
		hidden = graph.Mul(hidden, mask)
	}

	// Masked mean pool over source positions: [batch, d_model].
	tokens := graph.ReduceSum(mask, 1)
	pooled := graph.Div(graph.ReduceSum(hidden, 1), graph.AddScalar(tokens, 1e-6))

	// Teacher forcing: decoder reads targets shifted right one position.
	decInput := m.shiftRight(targetIDs)
	tgt := layers.Embedding(embedCtx, decInput, m.dtype, m.cfg.VocabSize, m.cfg.DModel)
	dec := graph.Add(tgt, graph.InsertAxes(pooled, 1))
	decCtx := ctx.In("decoder")
	for i := 0; i < max(m.cfg.DecoderLayers, 1); i++ {
		dec = m.block(decCtx.Inf("layer_%d", i), dec)
	}

	return layers.Dense(ctx.In("lm_head"), dec, false, m.cfg.VocabSize)
}

// block is one pre-norm feed-forward residual block.
func (m *condGen) block(ctx *context.Context, x *graph.Node) *graph.Node {
	h := layers.LayerNormalization(ctx, x, -1).Done()
	h = layers.Dense(ctx.In("fc1"), h, true, m.cfg.FFNDim)
	h = graph.Tanh(h)
	h = layers.Dense(ctx.In("fc2"), h, true, m.cfg.DModel)
	h = layers.DropoutFromContext(ctx, h)
	return graph.Add(x, h)
}

// shiftRight prepends the decoder-start token and drops the last position.
func (m *condGen) shiftRight(targetIDs *graph.Node) *graph.Node {
	g := targetIDs.Graph()
	dims := targetIDs.Shape().Dimensions
	batch, length := dims[0], dims[1]
	start := graph.MulScalar(
		graph.Ones(g, shapes.Make(targetIDs.DType(), batch, 1)),
		float64(m.cfg.DecoderStartTokenID))
	body := graph.Slice(targetIDs, graph.AxisRange(), graph.AxisRange(0, length-1))
	return graph.Concatenate([]*graph.Node{start, body}, 1)
}
