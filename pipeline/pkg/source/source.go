package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// Batch is an immutable set of raw records plus the snapshot token identifying it.
type Batch struct {
	Dataset  string
	Token    string
	Sequence int64
	Records  []dataset.RawRecord
}

// Token identifies a file snapshot as "<file name>:<size>:<sha256>".
func Token(name string, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%d:%s", name, len(data), hex.EncodeToString(sum[:]))
}

// ReadCSV parses a CSV document whose first row is the header. Every record maps header names to
// the raw cell text; short rows leave the trailing fields absent.
func ReadCSV(r io.Reader) ([]dataset.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []dataset.RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(records)+1, err)
		}
		rec := make(dataset.RawRecord, len(header))
		for i, v := range row {
			if i >= len(header) {
				break
			}
			rec[header[i]] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// LoadFile reads one CSV file as a batch.
func LoadFile(path, datasetName string, sequence int64) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	records, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &Batch{
		Dataset:  datasetName,
		Token:    Token(filepath.Base(path), data),
		Sequence: sequence,
		Records:  records,
	}, nil
}

// Resolver maps a file or directory name to the dataset it feeds.
type Resolver func(name string) (string, bool)

// ScanDir discovers batches under dir. A top-level "<name>.csv" is the first batch of its dataset;
// CSV files inside a directory "<name>/" follow in lexical order. Names are mapped to datasets by
// resolve; unresolved entries are skipped.
func ScanDir(log *slog.Logger, dir string, resolve Resolver) ([]*Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input dir: %w", err)
	}

	files := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			ds, ok := resolve(name)
			if !ok {
				log.Debug("source: skipping directory", "name", name)
				continue
			}
			sub, err := os.ReadDir(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			var paths []string
			for _, s := range sub {
				if !s.IsDir() && strings.EqualFold(filepath.Ext(s.Name()), ".csv") {
					paths = append(paths, filepath.Join(dir, name, s.Name()))
				}
			}
			sort.Strings(paths)
			files[ds] = append(files[ds], paths...)
		case strings.EqualFold(filepath.Ext(name), ".csv"):
			ds, ok := resolve(strings.TrimSuffix(name, filepath.Ext(name)))
			if !ok {
				log.Debug("source: skipping file", "name", name)
				continue
			}
			files[ds] = append([]string{filepath.Join(dir, name)}, files[ds]...)
		}
	}

	datasets := make([]string, 0, len(files))
	for ds := range files {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)

	var batches []*Batch
	for _, ds := range datasets {
		for i, p := range files[ds] {
			b, err := LoadFile(p, ds, int64(i+1))
			if err != nil {
				return nil, err
			}
			log.Info("source: loaded batch", "dataset", ds, "file", filepath.Base(p), "records", len(b.Records), "sequence", b.Sequence)
			batches = append(batches, b)
		}
	}
	return batches, nil
}
