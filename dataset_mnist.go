package main

import (
	"context"
	"encoding/binary"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// IDX magic numbers: unsigned byte payload with 1 or 3 dimensions.
const (
	idxLabelMagic = 0x00000801
	idxImageMagic = 0x00000803
)

// loadIDX reads an MNIST-layout split: <prefix>-images-idx3-ubyte and
// <prefix>-labels-idx1-ubyte, each optionally gzipped.
func loadIDX(ctx context.Context, fs afero.Fs, dir string, info DatasetInfo, train bool, workers int) ([]uint8, []int, error) {
	prefix := "t10k"
	if train {
		prefix = "train"
	}

	rawImages, err := readMaybeGzipped(fs, filepath.Join(dir, prefix+"-images-idx3-ubyte"))
	if err != nil {
		return nil, nil, err
	}
	rawLabels, err := readMaybeGzipped(fs, filepath.Join(dir, prefix+"-labels-idx1-ubyte"))
	if err != nil {
		return nil, nil, err
	}

	pixels, err := decodeIDXImages(ctx, rawImages, info, workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding images")
	}
	labels, err := decodeIDXLabels(rawLabels, info)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding labels")
	}
	if len(labels)*info.Features() != len(pixels) {
		return nil, nil, errors.Errorf("%d labels for %d images", len(labels), len(pixels)/info.Features())
	}
	return pixels, labels, nil
}

// readMaybeGzipped reads path, or path.gz when only the compressed file
// exists.
func readMaybeGzipped(fs afero.Fs, path string) ([]byte, error) {
	if ok, err := afero.Exists(fs, path); err != nil {
		return nil, errors.Wrapf(err, "checking %s", path)
	} else if ok {
		b, err := afero.ReadFile(fs, path)
		return b, errors.Wrapf(err, "reading %s", path)
	}

	gz := path + ".gz"
	f, err := fs.Open(gz)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", gz)
	}
	defer f.Close()

	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading gzip header of %s", gz)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing %s", gz)
	}
	return b, nil
}

func readIDXHeader(raw []byte, magic uint32, dims int) ([]int, []byte, error) {
	headerLen := 4 * (dims + 1)
	if len(raw) < headerLen {
		return nil, nil, errors.Errorf("file of %d bytes is shorter than the %d-byte header", len(raw), headerLen)
	}
	if got := binary.BigEndian.Uint32(raw); got != magic {
		return nil, nil, errors.Errorf("magic number %#08x, want %#08x", got, magic)
	}
	shape := make([]int, dims)
	size := 1
	for i := range shape {
		shape[i] = int(binary.BigEndian.Uint32(raw[4*(i+1):]))
		size *= shape[i]
	}
	payload := raw[headerLen:]
	if len(payload) != size {
		return nil, nil, errors.Errorf("payload of %d bytes, header %v implies %d", len(payload), shape, size)
	}
	return shape, payload, nil
}

func decodeIDXImages(ctx context.Context, raw []byte, info DatasetInfo, workers int) ([]uint8, error) {
	shape, payload, err := readIDXHeader(raw, idxImageMagic, 3)
	if err != nil {
		return nil, err
	}
	if shape[1] != info.Height || shape[2] != info.Width {
		return nil, errors.Errorf("images are %dx%d, want %dx%d", shape[1], shape[2], info.Height, info.Width)
	}

	pixels := make([]uint8, len(payload))
	features := info.Features()
	err = parallelChunks(ctx, workers, shape[0], func(lo, hi int) error {
		copy(pixels[lo*features:hi*features], payload[lo*features:hi*features])
		return nil
	})
	return pixels, err
}

func decodeIDXLabels(raw []byte, info DatasetInfo) ([]int, error) {
	_, payload, err := readIDXHeader(raw, idxLabelMagic, 1)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(payload))
	for i, b := range payload {
		if int(b) >= info.NumClasses {
			return nil, errors.Errorf("label %d of example %d out of range [0,%d)", b, i, info.NumClasses)
		}
		labels[i] = int(b)
	}
	return labels, nil
}
