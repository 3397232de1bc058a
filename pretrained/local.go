package pretrained

import (
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"
	tk "github.com/sugarme/tokenizer"
	tkpretrained "github.com/sugarme/tokenizer/pretrained"
)

// Candidate surface forms per special token; the first one present in the
// vocabulary wins.
var specialTokenNames = map[api.SpecialToken][]string{
	api.TokPad:                 {"<pad>", "[PAD]"},
	api.TokUnknown:             {"<unk>", "[UNK]"},
	api.TokBeginningOfSentence: {"<s>", "<bos>", "[CLS]"},
	api.TokEndOfSentence:       {"</s>", "<eos>", "[SEP]"},
	api.TokMask:                {"<mask>", "[MASK]"},
}

// localTokenizer adapts a sugarme tokenizer loaded from a tokenizer.json file
// to the hub tokenizer interface the rest of the harness consumes.
type localTokenizer struct {
	inner *tk.Tokenizer
	vocab map[string]int
}

// LoadLocalTokenizer reads a HuggingFace tokenizer.json from disk.
func LoadLocalTokenizer(path string) (api.Tokenizer, error) {
	inner, err := tkpretrained.FromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "pretrained: %s", path)
	}
	return &localTokenizer{inner: inner, vocab: inner.GetVocab(true)}, nil
}

func (l *localTokenizer) Encode(text string) []int {
	enc, err := l.inner.EncodeSingle(text)
	if err != nil {
		return nil
	}
	return enc.Ids
}

func (l *localTokenizer) Decode(ids []int) string {
	return l.inner.Decode(ids, true)
}

func (l *localTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	for _, name := range specialTokenNames[token] {
		if id, ok := l.vocab[name]; ok {
			return id, nil
		}
	}
	return 0, errors.Errorf("pretrained: tokenizer has no token for %v", token)
}
