package datasets

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Split file candidates, first hit wins. The val split also answers to "dev".
var splitCandidates = map[string][]string{
	"train": {"train.jsonl", "train.csv"},
	"val":   {"val.jsonl", "val.csv", "dev.jsonl", "dev.csv"},
	"test":  {"test.jsonl", "test.csv"},
}

// LoadSplit reads the examples of one split ("train", "val" or "test") from
// dataDir, capped at maxSamples when maxSamples > 0.
func LoadSplit(dataDir, split string, maxSamples int) ([]Example, error) {
	candidates, ok := splitCandidates[split]
	if !ok {
		return nil, errors.Errorf("datasets: unknown split %q", split)
	}
	for _, name := range candidates {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		examples, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if maxSamples > 0 && maxSamples < len(examples) {
			examples = examples[:maxSamples]
		}
		return examples, nil
	}
	return nil, errors.Errorf("datasets: no %s split found under %s", split, dataDir)
}

func loadFile(path string) ([]Example, error) {
	switch filepath.Ext(path) {
	case ".jsonl":
		return loadJSONL(path)
	case ".csv":
		return loadCSV(path)
	}
	return nil, errors.Errorf("datasets: unsupported file type %s", path)
}

// loadJSONL reads one JSON object per line with text/headline/title fields.
func loadJSONL(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "datasets")
	}
	defer f.Close()

	var examples []Example
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ex Example
		if err := json.Unmarshal(sc.Bytes(), &ex); err != nil {
			return nil, errors.Wrapf(err, "datasets: %s line %d", path, line)
		}
		examples = append(examples, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "datasets: %s", path)
	}
	return examples, nil
}

// loadCSV expects a header row naming text, headline and title columns.
func loadCSV(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "datasets")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "datasets: %s", path)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	textCol, ok := cols["text"]
	if !ok {
		return nil, errors.Errorf("datasets: %s has no text column", path)
	}
	headlineCol, ok := cols["headline"]
	if !ok {
		return nil, errors.Errorf("datasets: %s has no headline column", path)
	}
	titleCol, hasTitle := cols["title"]

	var examples []Example
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "datasets: %s", path)
		}
		ex := Example{Text: rec[textCol], Headline: rec[headlineCol]}
		if hasTitle && titleCol < len(rec) {
			ex.Title = rec[titleCol]
		}
		examples = append(examples, ex)
	}
	return examples, nil
}
