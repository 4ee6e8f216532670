// Package dataset holds tabular classification data and its fold splits.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Dataset is a feature matrix with encoded class labels.
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
	Classes  []string
}

// Rows returns the number of samples.
func (d *Dataset) Rows() int { return len(d.X) }

// Cols returns the number of features.
func (d *Dataset) Cols() int { return len(d.Features) }

// Subset returns the rows at idx. Rows are shared, not copied.
func (d *Dataset) Subset(idx []int) ([][]float64, []int) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		x[i] = d.X[j]
		y[i] = d.Y[j]
	}
	return x, y
}

var missing = map[string]bool{"": true, "?": true, "na": true, "nan": true}

// LoadCSV reads a CSV file with a header row. label names the class column;
// an empty label selects the last column.
func LoadCSV(path, label string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()
	ds, err := ReadCSV(f, label)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses CSV data; see LoadCSV.
func ReadCSV(r io.Reader, label string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("need at least one feature and a label column, got %d columns", len(header))
	}

	labelCol := len(header) - 1
	if label != "" {
		labelCol = -1
		for i, h := range header {
			if strings.TrimSpace(h) == label {
				labelCol = i
				break
			}
		}
		if labelCol < 0 {
			return nil, fmt.Errorf("label column %q not found", label)
		}
	}

	ds := &Dataset{}
	for i, h := range header {
		if i != labelCol {
			ds.Features = append(ds.Features, strings.TrimSpace(h))
		}
	}

	classIdx := map[string]int{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, 0, len(ds.Features))
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if i == labelCol {
				c, ok := classIdx[cell]
				if !ok {
					c = len(ds.Classes)
					classIdx[cell] = c
					ds.Classes = append(ds.Classes, cell)
				}
				ds.Y = append(ds.Y, c)
				continue
			}
			if missing[strings.ToLower(cell)] {
				row = append(row, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: not a number: %q", line, header[i], cell)
			}
			row = append(row, v)
		}
		ds.X = append(ds.X, row)
	}
	if len(ds.X) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return ds, nil
}

// Fold is one train/test split, as row indexes.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold splits y into k folds preserving class proportions. Rows
// are not shuffled; each class is spread over the folds in row order.
func StratifiedKFold(y []int, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("k-fold requires at least 2 splits, got %d", k)
	}
	if k > len(y) {
		return nil, fmt.Errorf("cannot have number of splits %d greater than the number of samples %d", k, len(y))
	}

	counts := map[int]int{}
	for _, c := range y {
		counts[c]++
	}
	classes := make([]int, 0, len(counts))
	tooSmall := true
	for c, n := range counts {
		classes = append(classes, c)
		if n >= k {
			tooSmall = false
		}
	}
	if tooSmall {
		return nil, fmt.Errorf("n_splits=%d cannot be greater than the number of members in each class", k)
	}
	sort.Ints(classes)

	// Deal the class-sorted labels round-robin over the folds to decide how
	// many members of each class every fold receives.
	sorted := make([]int, len(y))
	copy(sorted, y)
	sort.Ints(sorted)
	alloc := make([]map[int]int, k)
	for f := range alloc {
		alloc[f] = map[int]int{}
	}
	for i, c := range sorted {
		alloc[i%k][c]++
	}

	testFold := make([]int, len(y))
	for _, c := range classes {
		var assign []int
		for f := 0; f < k; f++ {
			for n := 0; n < alloc[f][c]; n++ {
				assign = append(assign, f)
			}
		}
		next := 0
		for i, yc := range y {
			if yc == c {
				testFold[i] = assign[next]
				next++
			}
		}
	}

	folds := make([]Fold, k)
	for i, f := range testFold {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds, nil
}
