package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"
)

// MixingMode selects how two examples are combined into one training example.
type MixingMode int

const (
	// ModePlain trains on batch A unmodified.
	ModePlain MixingMode = iota
	// ModeMixup blends inputs by lambda and labels by gamma = CDF(lambda).
	ModeMixup
	// ModeDirectionalAdversarial blends inputs only; the label stays A's.
	ModeDirectionalAdversarial
	// ModeDATTransform derives a mixup pair (lambda, gamma) from a DAT
	// distribution by a random flip and the density ratio.
	ModeDATTransform
)

func (m MixingMode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeMixup:
		return "mixup"
	case ModeDirectionalAdversarial:
		return "directional_adversarial"
	case ModeDATTransform:
		return "dat_transform"
	}
	return fmt.Sprintf("MixingMode(%d)", int(m))
}

// MarshalYAML implements yaml.Marshaler.
func (m MixingMode) MarshalYAML() (interface{}, error) { return m.String(), nil }

// MixesInputs reports whether inputs of A and B are blended.
func (m MixingMode) MixesInputs() bool { return m != ModePlain }

// MixesLabels reports whether targets are soft labels blended by gamma, and
// hence whether accuracy is credited by lambda.
func (m MixingMode) MixesLabels() bool { return m == ModeMixup || m == ModeDATTransform }

// SamplingMode selects where the second example of each pair comes from.
type SamplingMode int

const (
	// SamplingBatchShuffled pairs each example with a random permutation of
	// its own batch.
	SamplingBatchShuffled SamplingMode = iota
	// SamplingIID pairs with an independently shuffled second stream.
	SamplingIID
)

func (s SamplingMode) String() string {
	if s == SamplingIID {
		return "iid"
	}
	return "batch_shuffled"
}

// MarshalYAML implements yaml.Marshaler.
func (s SamplingMode) MarshalYAML() (interface{}, error) { return s.String(), nil }

// ScheduleKind selects the per-epoch learning-rate policy.
type ScheduleKind int

const (
	ScheduleConstant ScheduleKind = iota
	ScheduleDecay
	ScheduleStep
)

func (k ScheduleKind) String() string {
	switch k {
	case ScheduleDecay:
		return "decay"
	case ScheduleStep:
		return "sanity"
	}
	return "constant"
}

// MarshalYAML implements yaml.Marshaler.
func (k ScheduleKind) MarshalYAML() (interface{}, error) { return k.String(), nil }

// Config is the resolved, validated configuration of one run. It is built
// once from the command line and passed by value; nothing mutates it.
type Config struct {
	Mode       MixingMode   `yaml:"mode"`
	Sampling   SamplingMode `yaml:"sampling"`
	Stratified bool         `yaml:"stratified"`
	DAT        BetaParams   `yaml:"dat_parameters"`
	Lam        BetaParams   `yaml:"lam_parameters"`
	Gamma      BetaParams   `yaml:"gamma_parameters"`

	CosineLoss      bool `yaml:"cosine_loss"`
	Underconfidence bool `yaml:"underconfidence"`
	LabelDim        int  `yaml:"label_dim"`

	LR          float64      `yaml:"lr"`
	WeightDecay float64      `yaml:"decay"`
	Momentum    float64      `yaml:"momentum"`
	Schedule    ScheduleKind `yaml:"schedule"`

	Model     string `yaml:"model"`
	HiddenDim int    `yaml:"hidden_dim"`

	Dataset       string `yaml:"dataset"`
	DataDir       string `yaml:"data_dir"`
	Augment       bool   `yaml:"augment"`
	BatchSize     int    `yaml:"batch_size"`
	TestBatchSize int    `yaml:"test_batch_size"`
	Epochs        int    `yaml:"epoch"`
	Workers       int    `yaml:"workers"`
	Threads       int    `yaml:"threads"`

	Seed          int64  `yaml:"seed"`
	Checkpoint    string `yaml:"checkpoint,omitempty"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	Name          string `yaml:"name"`
	LogInterval   int    `yaml:"log_interval"`
	Verbose       bool   `yaml:"verbose"`
}

// trainArgs is the command line of the train subcommand.
type trainArgs struct {
	LR              float64   `arg:"--lr" help:"learning rate"`
	Decay           float64   `arg:"--decay" help:"weight decay"`
	DATParameters   []float64 `arg:"--dat_parameters" help:"a b of the Beta family used as pDAT (directional_adversarial, dat_transform)"`
	GammaParameters []float64 `arg:"--gamma_parameters" help:"a b of the Beta CDF mapping lambda to gamma (mixup)"`
	LamParameters   []float64 `arg:"--lam_parameters" help:"a b of the Beta distribution of lambda (mixup)"`

	DATTransform           bool `arg:"--dat_transform" help:"derive lambda and gamma from pDAT by the DAT transform"`
	NoMixup                bool `arg:"--no_mixup" help:"disable mixup"`
	DirectionalAdversarial bool `arg:"--directional_adversarial" help:"mix inputs only, instead of mixup"`
	StratifiedSampling     bool `arg:"--stratified_sampling" help:"stratify sampling of lambda"`
	IIDSampling            bool `arg:"--iid_sampling" help:"draw the second example from an independent stream instead of the same batch"`
	DecayLearningRate      bool `arg:"--decay_learning_rate" help:"two-phase exponential learning-rate decay"`
	SanityLearningRate     bool `arg:"--sanity_learning_rate" help:"divide the learning rate by 10 at epochs 100 and 150"`
	CosineLoss             bool `arg:"--cosine_loss" help:"train with negative cosine loss against label embeddings"`
	Underconfidence        bool `arg:"--underconfidence" help:"add the prediction-entropy penalty to soft cross-entropy"`
	NoAugment              bool `arg:"--no_augment" help:"disable random crop and flip"`

	Model         string `arg:"--model" help:"model type (linear, mlp)"`
	HiddenDim     int    `arg:"--hidden_dim" help:"hidden width of the mlp model"`
	Dataset       string `arg:"--dataset" help:"cifar10, cifar100, mnist or mnist_fashion"`
	DataDir       string `arg:"--data_dir" help:"directory holding the dataset files"`
	BatchSize     int    `arg:"--batch_size" help:"training batch size"`
	TestBatchSize int    `arg:"--test_batch_size" help:"evaluation batch size"`
	Epoch         int    `arg:"--epoch" help:"total epochs, including those of a resumed checkpoint"`
	LabelDim      int    `arg:"--label_dim" help:"dimension of the label embedding"`
	Seed          int64  `arg:"--seed" help:"random seed"`
	Checkpoint    string `arg:"--checkpoint" help:"checkpoint to resume from"`
	CheckpointDir string `arg:"--checkpoint_dir" help:"directory for checkpoints, history and run config"`
	Name          string `arg:"--name" help:"name of run"`
	Workers       int    `arg:"--workers" help:"dataset decoding workers"`
	Threads       int    `arg:"--threads" help:"matmul threads (0 = all CPUs, 1 = single-threaded)"`
	LogInterval   int    `arg:"--log_interval" help:"log every N training batches (0 = off)"`
	Verbose       bool   `arg:"-v,--verbose" help:"debug logging"`
}

func defaultTrainArgs() trainArgs {
	return trainArgs{
		LR:            0.1,
		Decay:         1e-4,
		Model:         "mlp",
		HiddenDim:     256,
		Dataset:       "cifar10",
		DataDir:       "~/data",
		BatchSize:     128,
		TestBatchSize: 100,
		Epoch:         200,
		LabelDim:      300,
		CheckpointDir: ".",
		Name:          "0",
		Workers:       8,
	}
}

// ParseTrainConfig parses the train subcommand's arguments into a validated
// Config. It prints nothing; help and parse errors are returned.
func ParseTrainConfig(argv []string) (Config, error) {
	args := defaultTrainArgs()
	p, err := arg.NewParser(arg.Config{Program: "mixtrain train"}, &args)
	if err != nil {
		return Config{}, errors.Wrap(err, "building argument parser")
	}
	if err := p.Parse(argv); err != nil {
		if err == arg.ErrHelp {
			p.WriteHelp(os.Stdout)
		}
		return Config{}, err
	}
	cfg, err := args.config()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (a trainArgs) config() (Config, error) {
	dat, err := betaPair("dat_parameters", a.DATParameters, BetaParams{A: 2, B: 1})
	if err != nil {
		return Config{}, err
	}
	lam, err := betaPair("lam_parameters", a.LamParameters, BetaParams{A: 1, B: 1})
	if err != nil {
		return Config{}, err
	}
	gamma, err := betaPair("gamma_parameters", a.GammaParameters, BetaParams{A: 1, B: 1})
	if err != nil {
		return Config{}, err
	}

	if a.DATTransform && a.DirectionalAdversarial {
		return Config{}, errors.Wrap(ErrInvalidConfig, "--dat_transform and --directional_adversarial are mutually exclusive")
	}
	if a.DATTransform && a.NoMixup {
		return Config{}, errors.Wrap(ErrInvalidConfig, "--dat_transform requires mixup, it cannot be combined with --no_mixup")
	}
	if a.DecayLearningRate && a.SanityLearningRate {
		return Config{}, errors.Wrap(ErrInvalidConfig, "--decay_learning_rate and --sanity_learning_rate are mutually exclusive")
	}

	mode := ModeMixup
	switch {
	case a.DirectionalAdversarial:
		mode = ModeDirectionalAdversarial
	case a.DATTransform:
		mode = ModeDATTransform
	case a.NoMixup:
		mode = ModePlain
	}

	sampling := SamplingBatchShuffled
	if a.IIDSampling {
		sampling = SamplingIID
	}

	schedule := ScheduleConstant
	switch {
	case a.DecayLearningRate:
		schedule = ScheduleDecay
	case a.SanityLearningRate:
		schedule = ScheduleStep
	}

	dataDir, err := expandHome(a.DataDir)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:            mode,
		Sampling:        sampling,
		Stratified:      a.StratifiedSampling,
		DAT:             dat,
		Lam:             lam,
		Gamma:           gamma,
		CosineLoss:      a.CosineLoss,
		Underconfidence: a.Underconfidence,
		LabelDim:        a.LabelDim,
		LR:              a.LR,
		WeightDecay:     a.Decay,
		Momentum:        0.9,
		Schedule:        schedule,
		Model:           strings.ToLower(a.Model),
		HiddenDim:       a.HiddenDim,
		Dataset:         a.Dataset,
		DataDir:         dataDir,
		Augment:         !a.NoAugment,
		BatchSize:       a.BatchSize,
		TestBatchSize:   a.TestBatchSize,
		Epochs:          a.Epoch,
		Workers:         a.Workers,
		Threads:         a.Threads,
		Seed:            a.Seed,
		Checkpoint:      a.Checkpoint,
		CheckpointDir:   a.CheckpointDir,
		Name:            a.Name,
		LogInterval:     a.LogInterval,
		Verbose:         a.Verbose,
	}, nil
}

func betaPair(flag string, vals []float64, def BetaParams) (BetaParams, error) {
	switch len(vals) {
	case 0:
		return def, nil
	case 2:
		return BetaParams{A: vals[0], B: vals[1]}, nil
	}
	return BetaParams{}, errors.Wrapf(ErrInvalidConfig, "--%s takes exactly two values, got %d", flag, len(vals))
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate checks the configuration. The dataset is checked first so that an
// unknown dataset name is always the reported error.
func (c Config) Validate() error {
	info, err := lookupDataset(c.Dataset)
	if err != nil {
		return err
	}
	if _, ok := modelBuilders[c.Model]; !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown model %q", c.Model)
	}
	for _, bp := range []struct {
		name string
		p    BetaParams
	}{{"dat_parameters", c.DAT}, {"lam_parameters", c.Lam}, {"gamma_parameters", c.Gamma}} {
		if err := bp.p.Validate(); err != nil {
			return errors.WithMessage(err, bp.name)
		}
	}
	switch {
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch_size must be positive, got %d", c.BatchSize)
	case c.TestBatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "test_batch_size must be positive, got %d", c.TestBatchSize)
	case c.Epochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "epoch must not be negative, got %d", c.Epochs)
	case !(c.LR > 0):
		return errors.Wrapf(ErrInvalidConfig, "lr must be positive, got %g", c.LR)
	case c.WeightDecay < 0:
		return errors.Wrapf(ErrInvalidConfig, "decay must not be negative, got %g", c.WeightDecay)
	case c.Model == "mlp" && c.HiddenDim <= 0:
		return errors.Wrapf(ErrInvalidConfig, "hidden_dim must be positive, got %d", c.HiddenDim)
	case c.Workers <= 0:
		return errors.Wrapf(ErrInvalidConfig, "workers must be positive, got %d", c.Workers)
	case c.Threads < 0:
		return errors.Wrapf(ErrInvalidConfig, "threads must not be negative, got %d", c.Threads)
	case c.Mode < ModePlain || c.Mode > ModeDATTransform:
		return errors.Wrapf(ErrInvalidConfig, "unknown mixing mode %d", int(c.Mode))
	}
	if c.CosineLoss {
		if c.LabelDim < info.NumClasses {
			return errors.Wrapf(ErrLabelDim, "label_dim %d, %s has %d classes", c.LabelDim, c.Dataset, info.NumClasses)
		}
	}
	return nil
}

// OutputDim is the width of the model's output layer.
func (c Config) OutputDim(numClasses int) int {
	if c.CosineLoss {
		return c.LabelDim
	}
	return numClasses
}

// WriteYAML stores the resolved configuration at path.
func (c Config) WriteYAML(fs afero.Fs, path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := afero.WriteFile(fs, path, b, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
