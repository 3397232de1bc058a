package pretrained

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Resolver fetches configs and tokenizers by name: a local path wins,
// otherwise the name is treated as a hub repository id.
type Resolver struct {
	CacheDir  string
	AuthToken string // usually HF_TOKEN
}

// NewResolver builds a resolver; the auth token is taken from HF_TOKEN.
func NewResolver(cacheDir string) *Resolver {
	return &Resolver{CacheDir: cacheDir, AuthToken: os.Getenv("HF_TOKEN")}
}

func (r *Resolver) repo(name string) *hub.Repo {
	repo := hub.New(name).WithAuth(r.AuthToken)
	if r.CacheDir != "" {
		repo = repo.WithCacheDir(r.CacheDir)
	}
	return repo
}

// Config resolves a model config by name or path.
func (r *Resolver) Config(name string) (*Config, error) {
	if path, ok := localFile(name, "config.json"); ok {
		klog.V(1).Infof("loading config from %s", path)
		return LoadConfig(path)
	}
	localPath, err := r.repo(name).DownloadFile("config.json")
	if err != nil {
		return nil, errors.Wrapf(err, "pretrained: config for %q", name)
	}
	return LoadConfig(localPath)
}

// Tokenizer resolves a tokenizer by name or path. A local tokenizer.json is
// loaded through sugarme's tokenizer package; hub ids go through
// go-huggingface.
func (r *Resolver) Tokenizer(name string) (api.Tokenizer, error) {
	if path, ok := localFile(name, "tokenizer.json"); ok {
		klog.V(1).Infof("loading tokenizer from %s", path)
		return LoadLocalTokenizer(path)
	}
	tok, err := tokenizers.New(r.repo(name))
	if err != nil {
		return nil, errors.Wrapf(err, "pretrained: tokenizer for %q", name)
	}
	return tok, nil
}

// localFile reports whether name is a usable local file: either the file
// itself or a directory containing base.
func localFile(name, base string) (string, bool) {
	info, err := os.Stat(name)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		path := filepath.Join(name, base)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		return "", false
	}
	if strings.HasSuffix(name, ".json") {
		return name, true
	}
	return "", false
}
