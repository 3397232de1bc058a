package datasets

import (
	"io"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
)

// Take limits ds to at most n yields per epoch. Used by debug mode to smoke
// test a run without touching the full split.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{ds: ds, limit: n}
}

type takeDataset struct {
	ds    train.Dataset
	limit int
	count int
}

func (t *takeDataset) Name() string { return t.ds.Name() }

func (t *takeDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if t.count >= t.limit {
		return nil, nil, nil, io.EOF
	}
	t.count++
	return t.ds.Yield()
}

func (t *takeDataset) Reset() {
	t.count = 0
	t.ds.Reset()
}
