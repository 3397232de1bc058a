// Command FLAN-summarizer fine-tunes a pretrained seq2seq model for headline
// generation. All heavy lifting (autograd, devices, checkpoints) is done by
// the gomlx trainer; this binary just wires configuration together.
package main

import (
	"flag"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/xla"

	"github.com/jordiclive/FLAN-summarizer/finetune"
	"github.com/jordiclive/FLAN-summarizer/params"
)

func main() {
	var hp params.TrainingConfig
	hp.RegisterFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()

	if err := hp.Validate(); err != nil {
		klog.Exitf("invalid configuration: %v", err)
	}

	err := exceptions.TryCatch[error](func() {
		module, err := finetune.NewSummarizationModule(&hp)
		if err != nil {
			klog.Exitf("setup failed: %+v", err)
		}
		if err := finetune.Train(module); err != nil {
			klog.Exitf("training failed: %+v", err)
		}
	})
	if err != nil {
		klog.Exitf("training failed: %+v", err)
	}
	klog.Info("done")
}
