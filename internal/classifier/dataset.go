package classifier

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/features"
)

// Record is one row of the labeled financial dataset.
type Record struct {
	Income        float64
	DateOfBirth   string
	Address       string
	AssetCategory string
}

// Source supplies training records.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
}

// StaticSource serves records held in memory.
type StaticSource []Record

// Load implements Source.
func (s StaticSource) Load(context.Context) ([]Record, error) {
	return s, nil
}

// CSV column names of the financial dataset.
const (
	colIncome = "tax_filing_income"
	colDOB    = "dob"
	colAddr   = "address"
	colAsset  = "asset_flag"
)

// CSVSource reads the financial dataset from a CSV file with a header row.
type CSVSource struct {
	Path string
}

// Load implements Source. A missing file or missing columns are reported as
// domain.ErrServiceUnavailable. Rows whose income is not a number are
// skipped.
func (s *CSVSource) Load(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open training data: %w", domain.ErrServiceUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read training header: %w", domain.ErrServiceUnavailable, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colIncome, colDOB, colAddr, colAsset} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: training data missing column %q", domain.ErrServiceUnavailable, required)
		}
	}

	var records []Record
	skipped := 0
	for line := 2; ; line++ {
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read training data line %d: %w", line, err)
		}

		field := func(name string) string {
			i := cols[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		income, err := strconv.ParseFloat(field(colIncome), 64)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, Record{
			Income:        income,
			DateOfBirth:   field(colDOB),
			Address:       field(colAddr),
			AssetCategory: field(colAsset),
		})
	}

	if skipped > 0 {
		slog.Warn("skipped training rows with invalid income", "path", s.Path, "skipped", skipped)
	}
	return records, nil
}

// Label is the proxy ground truth: a high-value asset held on a declared
// income below 3,000,000.
func Label(r Record) int {
	if features.AssetRiskScore(r.AssetCategory) >= 3 && r.Income < 3_000_000 {
		return 1
	}
	return 0
}

// buildDataset engineers features for every record. Records that fail
// validation are dropped and counted.
func buildDataset(records []Record, eng *features.Engineer) (X [][]float64, y []int, dropped int) {
	for _, r := range records {
		fv, err := eng.Compute(features.Input{
			DeclaredIncome: r.Income,
			DateOfBirth:    r.DateOfBirth,
			Address:        r.Address,
			AssetCategory:  r.AssetCategory,
		})
		if err != nil {
			dropped++
			continue
		}
		X = append(X, fv.Values())
		y = append(y, Label(r))
	}
	return X, y, dropped
}

// stratifiedSplit shuffles each class and moves testFraction of it into
// the test set, keeping at least one sample of each class for training.
func stratifiedSplit(y []int, testFraction float64, rng *rand.Rand) (train, test []int) {
	var byClass [2][]int
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for _, idx := range byClass {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nTest := int(float64(len(idx))*testFraction + 0.5)
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		if nTest < 0 {
			nTest = 0
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	return train, test
}
