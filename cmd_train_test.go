package main

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrainingEndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeMNISTFixture(t, fs, "/data/mnist", "train", 12, false)
	writeMNISTFixture(t, fs, "/data/mnist", "t10k", 5, true)

	cfg, err := ParseTrainConfig([]string{
		"--dataset", "mnist", "--data_dir", "/data", "--model", "linear",
		"--epoch", "2", "--batch_size", "5", "--test_batch_size", "4",
		"--checkpoint_dir", "/out", "--name", "e2e", "--workers", "2",
		"--directional_adversarial", "--iid_sampling", "--threads", "1",
	})
	require.NoError(t, err)
	require.NoError(t, runTraining(context.Background(), cfg, fs))

	for _, path := range []string{"/out/checkpoint_0.ckpt", "/out/run_0.yaml", "/out/e2e_history.csv"} {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.True(t, exists, path)
	}
	history, err := ReadHistory(fs, "/out/e2e_history.csv")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Continue the same run for one more epoch.
	cfg.Checkpoint = "/out/checkpoint_0.ckpt"
	cfg.Epochs = 3
	require.NoError(t, runTraining(context.Background(), cfg, fs))

	ck, err := LoadCheckpoint(fs, "/out/checkpoint_0.ckpt")
	require.NoError(t, err)
	assert.Equal(t, 2, ck.Epoch)
	history, err = ReadHistory(fs, "/out/e2e_history.csv")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRunTrainingMissingData(t *testing.T) {
	cfg, err := ParseTrainConfig([]string{"--dataset", "cifar10", "--data_dir", "/empty"})
	require.NoError(t, err)
	assert.Error(t, runTraining(context.Background(), cfg, afero.NewMemMapFs()))
}
