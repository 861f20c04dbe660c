package main

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// NamedTensor is a serialized parameter or optimizer buffer.
type NamedTensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Checkpoint is everything needed to continue a run after the epoch it was
// taken at: the next epoch draws exactly the same random numbers and starts
// from exactly the same weights as an uninterrupted run would.
type Checkpoint struct {
	Seed     int64
	Epoch    int     // last completed epoch
	LR       float64 // rate for epoch Epoch+1
	Params   []NamedTensor
	Velocity []NamedTensor
	RNG      []byte
}

// CheckpointPath is where the run with the given seed checkpoints.
func CheckpointPath(dir string, seed int64) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint_%d.ckpt", seed))
}

func runConfigName(seed int64) string {
	return fmt.Sprintf("run_%d.yaml", seed)
}

// NewCheckpoint snapshots the run state. Tensors are copied.
func NewCheckpoint(seed int64, epoch int, lr float64, model Model, opt *SGDOptimizer, rng *RNG) (*Checkpoint, error) {
	state, err := rng.State()
	if err != nil {
		return nil, err
	}
	names := model.ParameterNames()
	params := model.Parameters()
	ck := &Checkpoint{
		Seed:     seed,
		Epoch:    epoch,
		LR:       lr,
		Params:   make([]NamedTensor, len(params)),
		Velocity: make([]NamedTensor, len(params)),
		RNG:      state,
	}
	for i, p := range params {
		ck.Params[i] = snapshot(names[i], p)
		ck.Velocity[i] = snapshot(names[i], opt.velocity[i])
	}
	return ck, nil
}

func snapshot(name string, t *Tensor) NamedTensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return NamedTensor{Name: name, Shape: t.Shape(), Data: data}
}

// SaveCheckpoint writes ck to path through a temporary file and a rename,
// so a crash never leaves a truncated checkpoint behind.
func SaveCheckpoint(fs afero.Fs, path string, ck *Checkpoint) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}

	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}

	comp := snappy.NewBufferedWriter(f)
	if err := gob.NewEncoder(comp).Encode(ck); err != nil {
		f.Close()
		return errors.Wrap(err, "encoding checkpoint")
	}
	if err := comp.Close(); err != nil {
		f.Close()
		return errors.Wrap(err, "flushing checkpoint")
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint. Content that
// does not decode is reported as ErrMalformedCheckpoint.
func LoadCheckpoint(fs afero.Fs, path string) (*Checkpoint, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint")
	}
	defer f.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(snappy.NewReader(f)).Decode(&ck); err != nil {
		return nil, errors.Wrapf(ErrMalformedCheckpoint, "%s: %v", path, err)
	}
	return &ck, nil
}

// Validate checks that ck can be restored into model and opt for a run
// with the given seed.
func (ck *Checkpoint) Validate(seed int64, model Model, opt *SGDOptimizer) error {
	malformed := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrMalformedCheckpoint, format, args...)
	}

	if ck.Seed != seed {
		return malformed("checkpoint seed %d, run seed %d", ck.Seed, seed)
	}
	if ck.Epoch < 0 {
		return malformed("negative epoch %d", ck.Epoch)
	}
	if !(ck.LR > 0) || math.IsInf(ck.LR, 0) {
		return malformed("learning rate %g", ck.LR)
	}
	if len(ck.RNG) == 0 {
		return malformed("missing generator state")
	}
	if err := NewRNG(0, 0).Restore(ck.RNG); err != nil {
		return malformed("generator state: %v", err)
	}

	names := model.ParameterNames()
	params := model.Parameters()
	if err := checkTensors("parameter", ck.Params, names, params); err != nil {
		return err
	}
	if len(opt.velocity) != len(params) {
		return malformed("optimizer has %d buffers for %d parameters", len(opt.velocity), len(params))
	}
	return checkTensors("velocity", ck.Velocity, names, opt.velocity)
}

func checkTensors(kind string, saved []NamedTensor, names []string, want []*Tensor) error {
	if len(saved) != len(want) {
		return errors.Wrapf(ErrMalformedCheckpoint, "%d %s tensors, model has %d", len(saved), kind, len(want))
	}
	for i, s := range saved {
		if s.Name != names[i] {
			return errors.Wrapf(ErrMalformedCheckpoint, "%s %d is %q, want %q", kind, i, s.Name, names[i])
		}
		if !shapeEqual(s.Shape, want[i].shape) {
			return errors.Wrapf(ErrMalformedCheckpoint, "%s %q has shape %v, want %v", kind, s.Name, s.Shape, want[i].shape)
		}
		if len(s.Data) != want[i].Size() {
			return errors.Wrapf(ErrMalformedCheckpoint, "%s %q has %d values, want %d", kind, s.Name, len(s.Data), want[i].Size())
		}
	}
	return nil
}

// Restore validates ck and only then copies it into model, opt and rng.
func (ck *Checkpoint) Restore(seed int64, model Model, opt *SGDOptimizer, rng *RNG) error {
	if err := ck.Validate(seed, model, opt); err != nil {
		return err
	}
	for i, p := range model.Parameters() {
		copy(p.data, ck.Params[i].Data)
		p.ZeroGrad()
	}
	for i, v := range opt.velocity {
		copy(v.data, ck.Velocity[i].Data)
	}
	return rng.Restore(ck.RNG)
}
