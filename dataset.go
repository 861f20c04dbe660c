package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DatasetInfo describes an image classification dataset and how to read it.
type DatasetInfo struct {
	Name       string
	NumClasses int
	Channels   int
	Height     int
	Width      int

	// Per-channel normalization applied to pixels scaled to [0,1].
	Mean []float64
	Std  []float64

	// Training augmentation: random crop after zero padding, optional
	// horizontal flip.
	CropPad int
	Flip    bool

	dir  string
	load recordLoader
}

// Features is the flattened input width.
func (d DatasetInfo) Features() int { return d.Channels * d.Height * d.Width }

// recordLoader reads one split of a dataset from dir. Images are stored
// channel-major, Channels×Height×Width bytes each.
type recordLoader func(ctx context.Context, fs afero.Fs, dir string, info DatasetInfo, train bool, workers int) ([]uint8, []int, error)

var datasetRegistry = map[string]DatasetInfo{
	"cifar10": {
		Name: "cifar10", NumClasses: 10, Channels: 3, Height: 32, Width: 32,
		Mean:    []float64{0.4914, 0.4822, 0.4465},
		Std:     []float64{0.2470, 0.2435, 0.2612},
		CropPad: 4, Flip: true,
		dir: "cifar-10-batches-bin", load: loadCIFAR10,
	},
	"cifar100": {
		Name: "cifar100", NumClasses: 100, Channels: 3, Height: 32, Width: 32,
		Mean:    []float64{0.5071, 0.4865, 0.4409},
		Std:     []float64{0.2673, 0.2564, 0.2762},
		CropPad: 4, Flip: true,
		dir: "cifar-100-binary", load: loadCIFAR100,
	},
	"mnist": {
		Name: "mnist", NumClasses: 10, Channels: 1, Height: 28, Width: 28,
		Mean:    []float64{0.1307},
		Std:     []float64{0.3081},
		CropPad: 2,
		dir:     "mnist", load: loadIDX,
	},
	"mnist_fashion": {
		Name: "mnist_fashion", NumClasses: 10, Channels: 1, Height: 28, Width: 28,
		Mean:    []float64{0.2860},
		Std:     []float64{0.3530},
		CropPad: 2,
		dir:     "fashion-mnist", load: loadIDX,
	},
}

// DatasetNames lists the supported datasets.
func DatasetNames() []string {
	names := make([]string, 0, len(datasetRegistry))
	for name := range datasetRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type datasetError struct {
	name string
}

func (e *datasetError) Error() string { return "unsupported dataset: " + e.name }

// Is lets errors.Is match ErrUnsupportedDataset.
func (e *datasetError) Is(target error) bool { return target == ErrUnsupportedDataset }

func lookupDataset(name string) (DatasetInfo, error) {
	info, ok := datasetRegistry[name]
	if !ok {
		return DatasetInfo{}, &datasetError{name: name}
	}
	return info, nil
}

// Dataset is one split of a dataset held in memory as raw pixels.
type Dataset struct {
	Info   DatasetInfo
	Pixels []uint8
	Labels []int
}

// Len is the number of examples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Image returns the raw pixels of example i.
func (d *Dataset) Image(i int) []uint8 {
	n := d.Info.Features()
	return d.Pixels[i*n : (i+1)*n]
}

// NewDataset checks that pixels and labels agree with info.
func NewDataset(info DatasetInfo, pixels []uint8, labels []int) (*Dataset, error) {
	if len(pixels) != len(labels)*info.Features() {
		return nil, errors.Errorf("%s: %d pixel bytes for %d labels of %d features",
			info.Name, len(pixels), len(labels), info.Features())
	}
	for i, l := range labels {
		if l < 0 || l >= info.NumClasses {
			return nil, errors.Errorf("%s: label %d of example %d out of range [0,%d)", info.Name, l, i, info.NumClasses)
		}
	}
	return &Dataset{Info: info, Pixels: pixels, Labels: labels}, nil
}

// LoadDataset reads the train or test split of the named dataset from
// dataDir.
func LoadDataset(ctx context.Context, fs afero.Fs, dataDir, name string, train bool, workers int, logger *zap.SugaredLogger) (*Dataset, error) {
	info, err := lookupDataset(name)
	if err != nil {
		return nil, err
	}
	split := "test"
	if train {
		split = "train"
	}

	start := time.Now()
	dir := filepath.Join(dataDir, info.dir)
	pixels, labels, err := info.load(ctx, fs, dir, info, train, workers)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s %s split from %s", name, split, dir)
	}
	ds, err := NewDataset(info, pixels, labels)
	if err != nil {
		return nil, err
	}

	logger.Infof("loaded %s %s split: %s examples, %s in %v",
		name, split, humanize.Comma(int64(ds.Len())), humanize.Bytes(uint64(len(pixels))), time.Since(start))
	return ds, nil
}

// Batch is a set of flattened, normalized inputs and their class labels.
type Batch struct {
	Inputs  *Tensor
	Targets []int
}

// Len is the number of examples in the batch.
func (b Batch) Len() int { return len(b.Targets) }

// Permute returns the batch with rows reordered by perm.
func (b Batch) Permute(perm []int) Batch {
	targets := make([]int, len(perm))
	for i, j := range perm {
		targets[i] = b.Targets[j]
	}
	return Batch{Inputs: GatherRows(b.Inputs, perm), Targets: targets}
}

// batchStream walks a dataset in batches. Shuffled streams draw a fresh
// permutation from the run generator at every Reset, and augmenting streams
// draw crop offsets and flips per example.
type batchStream struct {
	data      *Dataset
	batchSize int
	rng       *RNG
	shuffle   bool
	augment   bool

	order   []int
	pos     int
	scratch []uint8
}

func newBatchStream(data *Dataset, batchSize int, rng *RNG, shuffle, augment bool) *batchStream {
	s := &batchStream{
		data:      data,
		batchSize: batchSize,
		rng:       rng,
		shuffle:   shuffle,
		augment:   augment,
		scratch:   make([]uint8, data.Info.Features()),
	}
	s.order = make([]int, data.Len())
	for i := range s.order {
		s.order[i] = i
	}
	return s
}

// Reset starts a new pass over the data.
func (s *batchStream) Reset() {
	if s.shuffle {
		s.order = s.rng.Perm(s.data.Len())
	}
	s.pos = 0
}

// Next returns the next batch of the current pass. The last batch may be
// short; ok is false once the pass is over.
func (s *batchStream) Next() (Batch, bool) {
	if s.pos >= len(s.order) {
		return Batch{}, false
	}
	end := s.pos + s.batchSize
	if end > len(s.order) {
		end = len(s.order)
	}
	b := s.build(s.order[s.pos:end])
	s.pos = end
	return b, true
}

// Take returns exactly n examples, starting a fresh pass whenever the
// current one runs out.
func (s *batchStream) Take(n int) Batch {
	if n > 0 && s.data.Len() == 0 {
		panic(fmt.Sprintf("stream: cannot take %d examples from an empty dataset", n))
	}
	idx := make([]int, 0, n)
	for len(idx) < n {
		if s.pos >= len(s.order) {
			s.Reset()
		}
		end := s.pos + n - len(idx)
		if end > len(s.order) {
			end = len(s.order)
		}
		idx = append(idx, s.order[s.pos:end]...)
		s.pos = end
	}
	return s.build(idx)
}

// NumBatches is the number of batches in one pass.
func (s *batchStream) NumBatches() int {
	return (s.data.Len() + s.batchSize - 1) / s.batchSize
}

func (s *batchStream) build(idx []int) Batch {
	info := s.data.Info
	inputs := NewTensor(len(idx), info.Features())
	targets := make([]int, len(idx))
	for r, i := range idx {
		img := s.data.Image(i)
		if s.augment {
			augmentImage(s.scratch, img, info, s.rng)
			img = s.scratch
		}
		normalizeImage(inputs.Row(r), img, info)
		targets[r] = s.data.Labels[i]
	}
	return Batch{Inputs: inputs, Targets: targets}
}

// normalizeImage writes (p/255 - mean_c) / std_c for every pixel p of
// channel c.
func normalizeImage(dst []float64, img []uint8, info DatasetInfo) {
	plane := info.Height * info.Width
	for c := 0; c < info.Channels; c++ {
		mean, std := info.Mean[c], info.Std[c]
		for i, p := range img[c*plane : (c+1)*plane] {
			dst[c*plane+i] = (float64(p)/255 - mean) / std
		}
	}
}
