package main

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func tinyConfig() Config {
	return Config{
		Mode:          ModeMixup,
		Sampling:      SamplingBatchShuffled,
		DAT:           BetaParams{A: 2, B: 1},
		Lam:           BetaParams{A: 1, B: 1},
		Gamma:         BetaParams{A: 1, B: 1},
		LabelDim:      4,
		LR:            0.1,
		WeightDecay:   1e-4,
		Momentum:      0.9,
		Schedule:      ScheduleDecay,
		Model:         "mlp",
		HiddenDim:     5,
		Dataset:       "tiny",
		Augment:       true,
		BatchSize:     4,
		TestBatchSize: 3,
		Epochs:        3,
		Workers:       1,
		Seed:          3,
		CheckpointDir: "/ckpt",
		Name:          "tiny",
		LogInterval:   1,
	}
}

func newTinyTrainer(t *testing.T, cfg Config, fs afero.Fs) *Trainer {
	trainer, err := NewTrainer(cfg, tinyDataset(t, 10), tinyDataset(t, 6), fs, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return trainer
}

// scores drops the wall-clock duration so results can be compared.
func scores(results []EpochResult) [][]float64 {
	out := make([][]float64, len(results))
	for i, r := range results {
		out[i] = []float64{float64(r.Epoch), r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc,
			r.NextLR, r.LambdaMean, r.LambdaStd, r.BatchLossStd}
	}
	return out
}

func TestTrainerDeterministic(t *testing.T) {
	for _, mode := range []MixingMode{ModePlain, ModeMixup, ModeDirectionalAdversarial, ModeDATTransform} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := tinyConfig()
			cfg.Mode = mode
			cfg.Stratified = true

			a, err := newTinyTrainer(t, cfg, nil).Run(context.Background())
			require.NoError(t, err)
			b, err := newTinyTrainer(t, cfg, nil).Run(context.Background())
			require.NoError(t, err)

			require.Len(t, a, 3)
			assert.Equal(t, scores(a), scores(b))
		})
	}
}

func TestTrainerSeedChangesRun(t *testing.T) {
	cfg := tinyConfig()
	a, err := newTinyTrainer(t, cfg, nil).Run(context.Background())
	require.NoError(t, err)
	cfg.Seed = 4
	b, err := newTinyTrainer(t, cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, scores(a), scores(b))
}

func TestTrainerResumeMatchesUninterruptedRun(t *testing.T) {
	for _, sampling := range []SamplingMode{SamplingBatchShuffled, SamplingIID} {
		t.Run(sampling.String(), func(t *testing.T) {
			cfg := tinyConfig()
			cfg.Sampling = sampling

			var fullLambdas [][]float64
			full := newTinyTrainer(t, cfg, afero.NewMemMapFs())
			full.onBatch = func(epoch, batch int, c Coefficients, loss float64) {
				if epoch > 0 {
					fullLambdas = append(fullLambdas, c.Lambda)
				}
			}
			want, err := full.Run(context.Background())
			require.NoError(t, err)

			// Stop after the first epoch, then continue in a fresh process.
			fs := afero.NewMemMapFs()
			short := cfg
			short.Epochs = 1
			_, err = newTinyTrainer(t, short, fs).Run(context.Background())
			require.NoError(t, err)

			ck, err := LoadCheckpoint(fs, CheckpointPath(cfg.CheckpointDir, cfg.Seed))
			require.NoError(t, err)
			assert.Equal(t, 0, ck.Epoch)
			assert.Equal(t, NewSchedule(ScheduleDecay, cfg.LR).Rate(0), ck.LR)

			resumed := newTinyTrainer(t, cfg, fs)
			require.NoError(t, resumed.Resume(ck))
			assert.Equal(t, 1, resumed.StartEpoch())
			assert.Equal(t, ck.LR, resumed.LR())

			var resumedLambdas [][]float64
			resumed.onBatch = func(epoch, batch int, c Coefficients, loss float64) {
				resumedLambdas = append(resumedLambdas, c.Lambda)
			}
			got, err := resumed.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, scores(want[1:]), scores(got))
			assert.Equal(t, fullLambdas, resumedLambdas)
			for i, p := range full.Model().Parameters() {
				assert.Equal(t, p.Data(), resumed.Model().Parameters()[i].Data())
			}

			history, err := ReadHistory(fs, HistoryPath(cfg.CheckpointDir, cfg.Name))
			require.NoError(t, err)
			require.Len(t, history, 3)
			for i, rec := range history {
				assert.Equal(t, i, rec.Epoch)
			}
		})
	}
}

// unitPolicy always picks λ = γ = 1, so mixing returns batch A unchanged.
type unitPolicy struct{}

func (unitPolicy) Compute(n int) Coefficients {
	c := Coefficients{Lambda: make([]float64, n), Gamma: make([]float64, n)}
	for i := range c.Lambda {
		c.Lambda[i], c.Gamma[i] = 1, 1
	}
	return c
}

func TestMixupWithUnitLambdaMatchesPlainTraining(t *testing.T) {
	cfg := tinyConfig()
	cfg.Augment = false
	cfg.Epochs = 1

	cfg.Mode = ModePlain
	plain, err := newTinyTrainer(t, cfg, nil).Run(context.Background())
	require.NoError(t, err)

	cfg.Mode = ModeMixup
	mixer := newTinyTrainer(t, cfg, nil)
	mixer.policy = unitPolicy{}
	mixed, err := mixer.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, plain, 1)
	require.Len(t, mixed, 1)
	assert.InDelta(t, plain[0].TrainLoss, mixed[0].TrainLoss, 1e-9)
	assert.InDelta(t, plain[0].TrainAcc, mixed[0].TrainAcc, 1e-9)
	assert.InDelta(t, plain[0].TestLoss, mixed[0].TestLoss, 1e-9)
	assert.InDelta(t, plain[0].TestAcc, mixed[0].TestAcc, 1e-9)
}

func TestTrainerVariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"cosine iid directional", func(cfg *Config) {
			cfg.Mode = ModeDirectionalAdversarial
			cfg.Sampling = SamplingIID
			cfg.CosineLoss = true
		}},
		{"cosine mixup", func(cfg *Config) { cfg.CosineLoss = true }},
		{"dat transform", func(cfg *Config) {
			cfg.Mode = ModeDATTransform
			cfg.DAT = BetaParams{A: 0.5, B: 2}
		}},
		{"underconfidence linear", func(cfg *Config) {
			cfg.Underconfidence = true
			cfg.Model = "linear"
			cfg.Schedule = ScheduleStep
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyConfig()
			tt.mutate(&cfg)
			fs := afero.NewMemMapFs()

			results, err := newTinyTrainer(t, cfg, fs).Run(context.Background())
			require.NoError(t, err)
			require.Len(t, results, cfg.Epochs)
			for _, r := range results {
				for _, v := range []float64{r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc, r.LambdaMean} {
					assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "epoch %d: %v", r.Epoch, r)
				}
				assert.True(t, r.TrainAcc >= 0 && r.TrainAcc <= 100)
				assert.True(t, r.TestAcc >= 0 && r.TestAcc <= 100)
				assert.True(t, strings.HasPrefix(r.String(), "Epoch: "))
			}

			exists, err := afero.Exists(fs, CheckpointPath(cfg.CheckpointDir, cfg.Seed))
			require.NoError(t, err)
			assert.True(t, exists)
			history, err := ReadHistory(fs, HistoryPath(cfg.CheckpointDir, cfg.Name))
			require.NoError(t, err)
			assert.Len(t, history, cfg.Epochs)
		})
	}
}

func TestCosineLossRequiresWideEmbedding(t *testing.T) {
	cfg := tinyConfig()
	cfg.CosineLoss = true
	cfg.LabelDim = 2
	_, err := NewTrainer(cfg, tinyDataset(t, 4), tinyDataset(t, 4), nil, zaptest.NewLogger(t).Sugar())
	assert.True(t, errors.Is(err, ErrLabelDim), "%v", err)
}

func TestTrainerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := newTinyTrainer(t, tinyConfig(), nil).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "%v", err)
	assert.Empty(t, results)
}

func TestTrainerResumeRejectsOtherSeed(t *testing.T) {
	cfg := tinyConfig()
	cfg.Epochs = 1
	fs := afero.NewMemMapFs()
	_, err := newTinyTrainer(t, cfg, fs).Run(context.Background())
	require.NoError(t, err)
	ck, err := LoadCheckpoint(fs, CheckpointPath(cfg.CheckpointDir, cfg.Seed))
	require.NoError(t, err)

	cfg.Seed = 4
	other := newTinyTrainer(t, cfg, nil)
	err = other.Resume(ck)
	assert.True(t, errors.Is(err, ErrMalformedCheckpoint), "%v", err)
	assert.Equal(t, 0, other.StartEpoch())
}

func TestEpochResultString(t *testing.T) {
	r := EpochResult{Epoch: 2, TrainLoss: 1.5, TrainAcc: 40, TestLoss: 1.25, TestAcc: 50}
	assert.Equal(t,
		"Epoch: 2 | Train Loss: 1.500000 | Train Acc: 40.000000% | Test Loss: 1.250000 | Test Acc: 50.000000% |",
		r.String())
}

// fixedPolicy hands out the same coefficients for every row.
type fixedPolicy struct{ lambda, gamma float64 }

func (p fixedPolicy) Compute(n int) Coefficients {
	c := Coefficients{Lambda: make([]float64, n), Gamma: make([]float64, n)}
	for i := range c.Lambda {
		c.Lambda[i], c.Gamma[i] = p.lambda, p.gamma
	}
	return c
}

// classZeroModel always predicts class 0 and never learns.
type classZeroModel struct{ Model }

func (classZeroModel) Forward(x *Tensor) *Tensor {
	out := NewTensor(x.Rows(), tinyInfo.NumClasses)
	for r := 0; r < x.Rows(); r++ {
		out.Set(5, r, 0)
	}
	return out
}

func (classZeroModel) Backward(*Tensor) {}

func TestTrainStepCreditsMixtureWeights(t *testing.T) {
	partners, err := NewDataset(tinyInfo, make([]uint8, 4*tinyInfo.Features()), []int{0, 1, 2, 1})
	require.NoError(t, err)

	tests := []struct {
		mode MixingMode
		want float64
	}{
		// Row 0 pairs class 0 with class 0 and earns full credit. Rows 1 and 2
		// earn λ for A only, row 3 matches neither side.
		{ModeMixup, 1 + 0.25 + 0.25},
		{ModeDATTransform, 1 + 0.25 + 0.25},
		// Hard labels: credit is 1 whenever A is predicted.
		{ModeDirectionalAdversarial, 3},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			cfg := tinyConfig()
			cfg.Mode = tt.mode
			tr := newTinyTrainer(t, cfg, nil)
			tr.model = classZeroModel{tr.model}
			tr.policy = fixedPolicy{lambda: 0.25, gamma: 0.6}
			tr.trainB = newBatchStream(partners, 4, nil, false, false)

			batch := Batch{Inputs: NewTensor(4, tinyInfo.Features()), Targets: []int{0, 0, 0, 2}}
			_, c, hits := tr.trainStep(batch)
			assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, c.Lambda)
			assert.InDelta(t, tt.want, hits, 1e-12)
		})
	}
}
