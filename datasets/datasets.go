// Package datasets adapts (text, headline, title) triples into the
// fixed-length tokenized batches the trainer consumes.
package datasets

import (
	"io"
	"math/rand"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Example is one raw article triple. Immutable once loaded.
type Example struct {
	Text     string `json:"text"`
	Headline string `json:"headline"`
	Title    string `json:"title"`
}

// Encoded is one tokenized example: ids and parallel attention masks,
// padded/truncated to the configured lengths.
type Encoded struct {
	InputIDs      []int32
	AttentionMask []int32
	Labels        []int32
	TargetMask    []int32
}

// CleanText strips surrounding whitespace and removes newlines, doubled
// backticks and double quotes, matching what the model was pretrained on.
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", "")
	text = strings.ReplaceAll(text, "``", "")
	text = strings.ReplaceAll(text, `"`, "")
	return text
}

// Adapter turns examples into encoded tensors, one example per Yield.
// Examples must be pre-sliced by the caller; the adapter never subsets.
type Adapter struct {
	name      string
	examples  []Example
	tok       api.Tokenizer
	inputLen  int
	outputLen int
	padID     int32
	shuffle   bool
	printText bool

	order []int
	next  int
	rng   *rand.Rand
}

// NewAdapter builds an adapter over pre-sliced examples. The pad id is taken
// from the tokenizer; tokenizers without a pad token pad with 0. The seed
// drives the per-epoch shuffle order.
func NewAdapter(name string, examples []Example, tok api.Tokenizer, inputLen, outputLen int, seed int64, shuffle, printText bool) (*Adapter, error) {
	if tok == nil {
		return nil, errors.New("datasets: tokenizer is required")
	}
	if inputLen <= 0 || outputLen <= 0 {
		return nil, errors.Errorf("datasets: non-positive sequence lengths (%d, %d)", inputLen, outputLen)
	}
	padID := int32(0)
	if id, err := tok.SpecialTokenID(api.TokPad); err == nil {
		padID = int32(id)
	}
	a := &Adapter{
		name:      name,
		examples:  examples,
		tok:       tok,
		inputLen:  inputLen,
		outputLen: outputLen,
		padID:     padID,
		shuffle:   shuffle,
		printText: printText,
		order:     make([]int, len(examples)),
		rng:       rand.New(rand.NewSource(seed)),
	}
	for i := range a.order {
		a.order[i] = i
	}
	a.Reset()
	return a, nil
}

// Len is the number of examples behind the adapter.
func (a *Adapter) Len() int { return len(a.examples) }

// Encode returns the fixed-length encoding of the example at index i.
func (a *Adapter) Encode(i int) Encoded {
	ex := a.examples[i]
	input := CleanText(ex.Text)
	target := CleanText(ex.Headline)
	if a.printText {
		klog.Infof("Input Text: %s", input)
	}
	inputIDs, inputMask := a.encodeFixed(input, a.inputLen)
	labels, targetMask := a.encodeFixed(target, a.outputLen)
	return Encoded{
		InputIDs:      inputIDs,
		AttentionMask: inputMask,
		Labels:        labels,
		TargetMask:    targetMask,
	}
}

// encodeFixed tokenizes text and pads/truncates to exactly maxLen, returning
// ids and the parallel mask (1 for real tokens, 0 for padding).
func (a *Adapter) encodeFixed(text string, maxLen int) (ids, mask []int32) {
	raw := a.tok.Encode(text)
	if len(raw) > maxLen {
		raw = raw[:maxLen]
	}
	ids = make([]int32, maxLen)
	mask = make([]int32, maxLen)
	for i, id := range raw {
		ids[i] = int32(id)
		mask[i] = 1
	}
	for i := len(raw); i < maxLen; i++ {
		ids[i] = a.padID
	}
	return ids, mask
}

// Name implements the framework dataset contract.
func (a *Adapter) Name() string { return a.name }

// Yield produces one example as int32 tensors: inputs are (ids, attention
// mask, target ids), labels are (target ids, target mask). The target ids
// appear on both sides: the model consumes them for teacher forcing, the loss
// for comparison. Returns io.EOF at epoch end.
func (a *Adapter) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if a.next >= len(a.order) {
		return nil, nil, nil, io.EOF
	}
	enc := a.Encode(a.order[a.next])
	a.next++
	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(enc.InputIDs, a.inputLen),
		tensors.FromFlatDataAndDimensions(enc.AttentionMask, a.inputLen),
		tensors.FromFlatDataAndDimensions(enc.Labels, a.outputLen),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(enc.Labels, a.outputLen),
		tensors.FromFlatDataAndDimensions(enc.TargetMask, a.outputLen),
	}
	return nil, inputs, labels, nil
}

// Reset rewinds the adapter; shuffling adapters reshuffle per epoch.
func (a *Adapter) Reset() {
	a.next = 0
	if a.shuffle {
		a.rng.Shuffle(len(a.order), func(i, j int) {
			a.order[i], a.order[j] = a.order[j], a.order[i]
		})
	}
}

// LogStats reports token-length statistics for the adapter's examples.
// Diagnostic only; visible at -v=1.
func (a *Adapter) LogStats() {
	if !klog.V(1).Enabled() || len(a.examples) == 0 {
		return
	}
	srcLens := make([]float64, len(a.examples))
	tgtLens := make([]float64, len(a.examples))
	for i, ex := range a.examples {
		srcLens[i] = float64(len(a.tok.Encode(CleanText(ex.Text))))
		tgtLens[i] = float64(len(a.tok.Encode(CleanText(ex.Headline))))
	}
	klog.V(1).Infof("%s: %d examples, source tokens %.1f±%.1f, target tokens %.1f±%.1f",
		a.name, len(a.examples),
		stat.Mean(srcLens, nil), stat.StdDev(srcLens, nil),
		stat.Mean(tgtLens, nil), stat.StdDev(tgtLens, nil))
}
