package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The trainer runs the epoch loop
//
//   for epoch in [start, cfg.Epochs):
//     TRAIN     one pass over stream A, mixing each batch with a partner B
//     EVAL      one pass over the test set, no mixing, no gradients
//     SCHEDULE  the schedule sets the rate for the next epoch
//     CHECKPOINT
//
// A training step:
//
//   1. batch A from the shuffled training stream
//   2. batch B: a random permutation of A, or the next n examples of an
//      independently shuffled second stream (iid sampling)
//   3. (λ, γ) from the mixing policy; x = λ·x_A + (1-λ)·x_B
//   4. forward, loss against the target the mode calls for:
//
//        labels mixed   cosine   target                       loss
//        yes            no       γ·onehot(A) + (1-γ)·onehot(B) soft CE
//        yes            yes      γ·embed(A) + (1-γ)·embed(B)   -cos
//        no             no       A                             CE
//        no             yes      embed(A)                      -cos
//
//   5. accuracy: with mixed labels a prediction earns λ for matching A and
//      1-λ for matching B; otherwise 1 for matching A
//   6. backward, SGD step
//
// Every random draw comes from one generator, in a fixed order, so a seed
// (or the generator state in a checkpoint) determines the whole run.
//
// ===========================================================================

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64 // percent
	TestLoss  float64
	TestAcc   float64 // percent
	NextLR    float64

	LambdaMean   float64
	LambdaStd    float64
	BatchLossStd float64
	Duration     time.Duration
}

// String is the per-epoch summary line.
func (r EpochResult) String() string {
	return fmt.Sprintf("Epoch: %d | Train Loss: %.6f | Train Acc: %.6f%% | Test Loss: %.6f | Test Acc: %.6f%% |",
		r.Epoch, r.TrainLoss, r.TrainAcc, r.TestLoss, r.TestAcc)
}

// Record converts r to a history row.
func (r EpochResult) Record() EpochRecord {
	return EpochRecord{
		Epoch:        r.Epoch,
		TrainLoss:    r.TrainLoss,
		TrainAcc:     r.TrainAcc,
		TestLoss:     r.TestLoss,
		TestAcc:      r.TestAcc,
		LR:           r.NextLR,
		LambdaMean:   r.LambdaMean,
		LambdaStd:    r.LambdaStd,
		BatchLossStd: r.BatchLossStd,
		Seconds:      r.Duration.Seconds(),
	}
}

// Trainer owns the state of one run. It is not safe for concurrent use.
type Trainer struct {
	cfg    Config
	info   DatasetInfo
	fs     afero.Fs
	logger *zap.SugaredLogger

	model     Model
	params    []*Tensor
	opt       *SGDOptimizer
	schedule  Schedule
	rng       *RNG
	policy    MixingPolicy
	embedding *LabelEmbedding

	trainA *batchStream
	trainB *batchStream
	test   *batchStream

	lr         float64
	startEpoch int

	// onBatch, when set, sees the coefficients and loss of every training
	// batch.
	onBatch func(epoch, batch int, c Coefficients, loss float64)
}

// NewTrainer builds a fresh run: model weights and the label embedding
// come from generators derived from cfg.Seed, everything else from the run
// generator.
func NewTrainer(cfg Config, train, test *Dataset, fs afero.Fs, logger *zap.SugaredLogger) (*Trainer, error) {
	info := train.Info
	if test.Info.Name != info.Name {
		return nil, errors.Errorf("train split is %s but test split is %s", info.Name, test.Info.Name)
	}

	model, err := NewModel(cfg.Model, ModelSpec{
		InputDim:  info.Features(),
		HiddenDim: cfg.HiddenDim,
		OutputDim: cfg.OutputDim(info.NumClasses),
	}, cfg.Seed)
	if err != nil {
		return nil, err
	}

	var embedding *LabelEmbedding
	if cfg.CosineLoss {
		embedding, err = NewLabelEmbedding(info.NumClasses, cfg.LabelDim, cfg.Seed)
		if err != nil {
			return nil, err
		}
	}

	params := model.Parameters()
	rng := NewRNG(cfg.Seed, streamRun)
	t := &Trainer{
		cfg:       cfg,
		info:      info,
		fs:        fs,
		logger:    logger,
		model:     model,
		params:    params,
		opt:       NewSGDOptimizer(params, cfg.Momentum, cfg.WeightDecay),
		schedule:  NewSchedule(cfg.Schedule, cfg.LR),
		rng:       rng,
		policy:    NewMixingPolicy(cfg, NewBetaSampler(rng, cfg.Stratified)),
		embedding: embedding,
		trainA:    newBatchStream(train, cfg.BatchSize, rng, true, cfg.Augment),
		test:      newBatchStream(test, cfg.TestBatchSize, nil, false, false),
		lr:        cfg.LR,
	}
	if cfg.Sampling == SamplingIID {
		t.trainB = newBatchStream(train, cfg.BatchSize, rng, true, cfg.Augment)
	}
	return t, nil
}

// Resume restores ck into the trainer. Nothing is modified unless ck is
// valid for this run.
func (t *Trainer) Resume(ck *Checkpoint) error {
	if err := ck.Restore(t.cfg.Seed, t.model, t.opt, t.rng); err != nil {
		return err
	}
	t.lr = ck.LR
	t.startEpoch = ck.Epoch + 1
	return nil
}

// StartEpoch is the first epoch Run will train.
func (t *Trainer) StartEpoch() int { return t.startEpoch }

// LR is the rate the next training epoch uses.
func (t *Trainer) LR() float64 { return t.lr }

// Model is the trained model.
func (t *Trainer) Model() Model { return t.model }

type trainStats struct {
	loss       float64
	acc        float64
	lambdaMean float64
	lambdaStd  float64
	lossStd    float64
}

// TrainEpoch runs one pass over the training set at the current rate.
func (t *Trainer) TrainEpoch(ctx context.Context, epoch int) (trainStats, error) {
	t.trainA.Reset()
	if t.trainB != nil {
		t.trainB.Reset()
	}

	var batchLosses, lambdas []float64
	correct, total := 0.0, 0
	for batchIdx := 0; ; batchIdx++ {
		if err := ctx.Err(); err != nil {
			return trainStats{}, err
		}
		a, ok := t.trainA.Next()
		if !ok {
			break
		}

		loss, c, hits := t.trainStep(a)
		batchLosses = append(batchLosses, loss)
		lambdas = append(lambdas, c.Lambda...)
		correct += hits
		total += a.Len()

		if t.onBatch != nil {
			t.onBatch(epoch, batchIdx, c, loss)
		}
		if t.cfg.LogInterval > 0 && (batchIdx+1)%t.cfg.LogInterval == 0 {
			t.logger.Infof("epoch %d batch %d/%d loss %.6f", epoch, batchIdx+1, t.trainA.NumBatches(), loss)
		}
	}

	st := trainStats{
		loss:       mean(batchLosses),
		acc:        percent(correct, total),
		lambdaMean: mean(lambdas),
		lambdaStd:  stddev(lambdas),
		lossStd:    stddev(batchLosses),
	}
	return st, nil
}

// trainStep trains on one batch and returns its loss, the coefficients used
// and the accuracy credit earned.
func (t *Trainer) trainStep(a Batch) (float64, Coefficients, float64) {
	n := a.Len()
	mode := t.cfg.Mode

	b := a
	x := a.Inputs
	var c Coefficients
	if mode.MixesInputs() {
		if t.trainB != nil {
			b = t.trainB.Take(n)
		} else {
			b = a.Permute(t.rng.Perm(n))
		}
		c = t.policy.Compute(n)
		x = MixRows(a.Inputs, b.Inputs, c.Lambda)
	} else {
		c = t.policy.Compute(n)
	}

	t.opt.ZeroGrad(t.params)
	out := t.model.Forward(x)

	var loss float64
	var grad *Tensor
	switch {
	case mode.MixesLabels() && t.embedding != nil:
		loss, grad = NegativeCosine(out, t.embedding.Mix(a.Targets, b.Targets, c.Gamma))
	case mode.MixesLabels():
		loss, grad = SoftCrossEntropy(out, MixOneHot(a.Targets, b.Targets, c.Gamma, t.info.NumClasses), t.cfg.Underconfidence)
	case t.embedding != nil:
		loss, grad = NegativeCosine(out, t.embedding.EmbedBatch(a.Targets))
	default:
		loss, grad = CrossEntropy(out, a.Targets)
	}

	predicted := t.predict(out)
	hits := 0.0
	for i, p := range predicted {
		if mode.MixesLabels() {
			lam := c.Lambda[i]
			if p == a.Targets[i] {
				hits += lam
			}
			if p == b.Targets[i] {
				hits += 1 - lam
			}
		} else if p == a.Targets[i] {
			hits++
		}
	}

	t.model.Backward(grad)
	t.opt.Step(t.params, t.lr)
	return loss, c, hits
}

func (t *Trainer) predict(out *Tensor) []int {
	if t.embedding != nil {
		return t.embedding.ClassifyBatch(out)
	}
	return ArgmaxRows(out)
}

// Evaluate measures loss and hard accuracy on the test set.
func (t *Trainer) Evaluate(ctx context.Context) (float64, float64, error) {
	t.test.Reset()

	var losses []float64
	correct, total := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		batch, ok := t.test.Next()
		if !ok {
			break
		}
		out := t.model.Forward(batch.Inputs)

		var loss float64
		if t.embedding != nil {
			loss, _ = NegativeCosine(out, t.embedding.EmbedBatch(batch.Targets))
		} else {
			loss, _ = CrossEntropy(out, batch.Targets)
		}
		losses = append(losses, loss)

		for i, p := range t.predict(out) {
			if p == batch.Targets[i] {
				correct++
			}
		}
		total += batch.Len()
	}
	return mean(losses), percent(float64(correct), total), nil
}

// Run trains from StartEpoch through cfg.Epochs-1. After every epoch the
// summary is logged, the checkpoint is saved and the history row is
// appended.
func (t *Trainer) Run(ctx context.Context) ([]EpochResult, error) {
	var results []EpochResult
	for epoch := t.startEpoch; epoch < t.cfg.Epochs; epoch++ {
		start := time.Now()
		t.logger.Debugf("epoch %d: lr %g", epoch, t.lr)

		tr, err := t.TrainEpoch(ctx, epoch)
		if err != nil {
			return results, errors.Wrapf(err, "epoch %d: training", epoch)
		}
		testLoss, testAcc, err := t.Evaluate(ctx)
		if err != nil {
			return results, errors.Wrapf(err, "epoch %d: evaluation", epoch)
		}
		t.lr = t.schedule.Rate(epoch)

		res := EpochResult{
			Epoch:        epoch,
			TrainLoss:    tr.loss,
			TrainAcc:     tr.acc,
			TestLoss:     testLoss,
			TestAcc:      testAcc,
			NextLR:       t.lr,
			LambdaMean:   tr.lambdaMean,
			LambdaStd:    tr.lambdaStd,
			BatchLossStd: tr.lossStd,
			Duration:     time.Since(start),
		}
		t.logger.Info(res.String())
		t.logger.Debugf("epoch %d: lambda %.4f±%.4f, batch loss std %.6f, %v",
			epoch, res.LambdaMean, res.LambdaStd, res.BatchLossStd, res.Duration)

		if err := t.save(epoch, res); err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Trainer) save(epoch int, res EpochResult) error {
	if t.fs == nil {
		return nil
	}
	start := time.Now()
	ck, err := NewCheckpoint(t.cfg.Seed, epoch, t.lr, t.model, t.opt, t.rng)
	if err != nil {
		return errors.Wrapf(err, "epoch %d: snapshot", epoch)
	}
	path := CheckpointPath(t.cfg.CheckpointDir, t.cfg.Seed)
	if err := SaveCheckpoint(t.fs, path, ck); err != nil {
		return errors.Wrapf(err, "epoch %d: saving checkpoint", epoch)
	}
	t.logger.Infof("checkpoint saved to %s in %v", path, time.Since(start).Round(time.Millisecond))

	if err := AppendHistory(t.fs, HistoryPath(t.cfg.CheckpointDir, t.cfg.Name), res.Record()); err != nil {
		return errors.Wrapf(err, "epoch %d: history", epoch)
	}
	return nil
}

func percent(correct float64, total int) float64 {
	if total == 0 {
		return math.NaN()
	}
	return 100 * correct / float64(total)
}

func mean(xs []float64) float64 {
	m, err := stats.Mean(xs)
	if err != nil {
		return math.NaN()
	}
	return m
}

func stddev(xs []float64) float64 {
	s, err := stats.StandardDeviationPopulation(xs)
	if err != nil {
		return math.NaN()
	}
	return s
}
