package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkpointFixture(t *testing.T) (Model, *SGDOptimizer, *RNG) {
	model, err := NewModel("mlp", ModelSpec{InputDim: 4, HiddenDim: 3, OutputDim: 2}, 5)
	require.NoError(t, err)
	opt := NewSGDOptimizer(model.Parameters(), 0.9, 1e-4)
	for i, v := range opt.Velocity() {
		for j := range v.data {
			v.data[j] = float64(i) + float64(j)/10
		}
	}
	rng := NewRNG(5, streamRun)
	rng.Float64()
	return model, opt, rng
}

func TestCheckpointRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	model, opt, rng := checkpointFixture(t)

	ck, err := NewCheckpoint(5, 3, 0.05, model, opt, rng)
	require.NoError(t, err)
	path := CheckpointPath("/ckpt", 5)
	assert.Equal(t, "/ckpt/checkpoint_5.ckpt", path)
	require.NoError(t, SaveCheckpoint(fs, path, ck))

	exists, err := afero.Exists(fs, path+".tmp")
	require.NoError(t, err)
	assert.False(t, exists, "temporary file left behind")

	loaded, err := LoadCheckpoint(fs, path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Epoch)
	assert.Equal(t, 0.05, loaded.LR)

	other, err := NewModel("mlp", ModelSpec{InputDim: 4, HiddenDim: 3, OutputDim: 2}, 99)
	require.NoError(t, err)
	otherOpt := NewSGDOptimizer(other.Parameters(), 0.9, 1e-4)
	otherRNG := NewRNG(99, streamRun)
	require.NoError(t, loaded.Restore(5, other, otherOpt, otherRNG))

	for i, p := range model.Parameters() {
		assert.Equal(t, p.Data(), other.Parameters()[i].Data())
		assert.Equal(t, opt.Velocity()[i].Data(), otherOpt.Velocity()[i].Data())
	}
	assert.Equal(t, rng.Uint64(), otherRNG.Uint64(), "generator state not restored")
}

func TestLoadCheckpointGarbage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ckpt/bad.ckpt", []byte("not a checkpoint"), 0644))

	_, err := LoadCheckpoint(fs, "/ckpt/bad.ckpt")
	assert.True(t, errors.Is(err, ErrMalformedCheckpoint), "%v", err)

	_, err = LoadCheckpoint(fs, "/ckpt/missing.ckpt")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedCheckpoint))
}

func TestCheckpointRejectsMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ck *Checkpoint)
	}{
		{"seed", func(ck *Checkpoint) { ck.Seed = 6 }},
		{"negative epoch", func(ck *Checkpoint) { ck.Epoch = -1 }},
		{"zero lr", func(ck *Checkpoint) { ck.LR = 0 }},
		{"missing rng", func(ck *Checkpoint) { ck.RNG = nil }},
		{"corrupt rng", func(ck *Checkpoint) { ck.RNG = []byte{1, 2, 3} }},
		{"param count", func(ck *Checkpoint) { ck.Params = ck.Params[:2] }},
		{"param name", func(ck *Checkpoint) { ck.Params[0].Name = "other.w" }},
		{"param shape", func(ck *Checkpoint) { ck.Params[1].Shape = []int{3, 1} }},
		{"param values", func(ck *Checkpoint) { ck.Params[2].Data = ck.Params[2].Data[1:] }},
		{"velocity count", func(ck *Checkpoint) { ck.Velocity = nil }},
		{"velocity shape", func(ck *Checkpoint) { ck.Velocity[3].Shape = []int{3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, opt, rng := checkpointFixture(t)
			ck, err := NewCheckpoint(5, 1, 0.1, model, opt, rng)
			require.NoError(t, err)
			tt.mutate(ck)

			target, err := NewModel("mlp", ModelSpec{InputDim: 4, HiddenDim: 3, OutputDim: 2}, 8)
			require.NoError(t, err)
			before := make([][]float64, len(target.Parameters()))
			for i, p := range target.Parameters() {
				before[i] = append([]float64(nil), p.Data()...)
			}

			err = ck.Restore(5, target, NewSGDOptimizer(target.Parameters(), 0.9, 0), NewRNG(8, streamRun))
			assert.True(t, errors.Is(err, ErrMalformedCheckpoint), "%v", err)
			for i, p := range target.Parameters() {
				assert.Equal(t, before[i], p.Data(), "model modified by a rejected checkpoint")
			}
		})
	}
}

func TestCheckpointRejectsOtherArchitecture(t *testing.T) {
	model, opt, rng := checkpointFixture(t)
	ck, err := NewCheckpoint(5, 1, 0.1, model, opt, rng)
	require.NoError(t, err)

	linear, err := NewModel("linear", ModelSpec{InputDim: 4, OutputDim: 2}, 5)
	require.NoError(t, err)
	err = ck.Validate(5, linear, NewSGDOptimizer(linear.Parameters(), 0.9, 0))
	assert.True(t, errors.Is(err, ErrMalformedCheckpoint), "%v", err)
}
