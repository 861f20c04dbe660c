package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// The CIFAR binary distributions store fixed-size records: label byte(s)
// followed by 3072 pixel bytes, the 1024 red values first, then green, then
// blue, each plane in row-major order. CIFAR-100 records carry a coarse and
// a fine label; the fine label is the class.

func loadCIFAR10(ctx context.Context, fs afero.Fs, dir string, info DatasetInfo, train bool, workers int) ([]uint8, []int, error) {
	files := []string{"test_batch.bin"}
	if train {
		files = files[:0]
		for i := 1; i <= 5; i++ {
			files = append(files, fmt.Sprintf("data_batch_%d.bin", i))
		}
	}
	return readCIFARFiles(ctx, fs, dir, files, info, 1, workers)
}

func loadCIFAR100(ctx context.Context, fs afero.Fs, dir string, info DatasetInfo, train bool, workers int) ([]uint8, []int, error) {
	file := "test.bin"
	if train {
		file = "train.bin"
	}
	return readCIFARFiles(ctx, fs, dir, []string{file}, info, 2, workers)
}

func readCIFARFiles(ctx context.Context, fs afero.Fs, dir string, files []string, info DatasetInfo, labelBytes, workers int) ([]uint8, []int, error) {
	var pixels []uint8
	var labels []int
	for _, name := range files {
		path := filepath.Join(dir, name)
		raw, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading %s", path)
		}
		p, l, err := decodeCIFAR(ctx, raw, info, labelBytes, workers)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decoding %s", path)
		}
		pixels = append(pixels, p...)
		labels = append(labels, l...)
	}
	return pixels, labels, nil
}

// decodeCIFAR splits raw into records. The label is the last label byte.
func decodeCIFAR(ctx context.Context, raw []byte, info DatasetInfo, labelBytes, workers int) ([]uint8, []int, error) {
	features := info.Features()
	recordSize := labelBytes + features
	if len(raw)%recordSize != 0 {
		return nil, nil, errors.Errorf("size %d is not a multiple of the %d-byte record", len(raw), recordSize)
	}

	n := len(raw) / recordSize
	pixels := make([]uint8, n*features)
	labels := make([]int, n)
	err := parallelChunks(ctx, workers, n, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			rec := raw[i*recordSize : (i+1)*recordSize]
			label := int(rec[labelBytes-1])
			if label >= info.NumClasses {
				return errors.Errorf("record %d: label %d out of range [0,%d)", i, label, info.NumClasses)
			}
			labels[i] = label
			copy(pixels[i*features:(i+1)*features], rec[labelBytes:])
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pixels, labels, nil
}
