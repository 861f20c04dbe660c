package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v2"
)

// ===========================================================================
// TRAINING CLI
// ===========================================================================
//
//   mixtrain train [flags]
//
// Parses and validates the flags before anything else happens, so a bad
// configuration fails with a single error line. Then:
//
//   1. loads the train and test splits from --data_dir
//   2. builds the trainer, resuming from --checkpoint when given
//   3. writes the resolved config to <checkpoint_dir>/run_<seed>.yaml
//   4. trains until --epoch, checkpointing after every epoch
//
// SIGINT and SIGTERM stop the run between batches. The last completed
// epoch's checkpoint is left in place.
//
// ===========================================================================

// RunTrainCommand implements the train subcommand.
func RunTrainCommand(args []string) error {
	cfg, err := ParseTrainConfig(args)
	if err == arg.ErrHelp {
		return nil
	} else if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runTraining(ctx, cfg, afero.NewOsFs())
}

func runTraining(ctx context.Context, cfg Config, fs afero.Fs) error {
	logger := NewLogger(cfg.Verbose)
	defer logger.Sync()

	simStart := time.Now()
	logger.Infof("START SIMULATION: %s", simStart.Format("2006-01-02 15:04"))
	if b, err := yaml.Marshal(cfg); err == nil {
		logger.Infof("configuration:\n%s", b)
	}

	SetGlobalComputeConfig(ComputeConfigForThreads(cfg.Threads))

	train, err := LoadDataset(ctx, fs, cfg.DataDir, cfg.Dataset, true, cfg.Workers, logger)
	if err != nil {
		return err
	}
	test, err := LoadDataset(ctx, fs, cfg.DataDir, cfg.Dataset, false, cfg.Workers, logger)
	if err != nil {
		return err
	}

	trainer, err := NewTrainer(cfg, train, test, fs, logger)
	if err != nil {
		return err
	}
	if cfg.Checkpoint != "" {
		ck, err := LoadCheckpoint(fs, cfg.Checkpoint)
		if err != nil {
			return errors.Wrapf(err, "resuming from %s", cfg.Checkpoint)
		}
		if err := trainer.Resume(ck); err != nil {
			return errors.Wrapf(err, "resuming from %s", cfg.Checkpoint)
		}
		logger.Infof("resumed from %s at epoch %d, lr %g", cfg.Checkpoint, trainer.StartEpoch(), trainer.LR())
	}

	if err := fs.MkdirAll(cfg.CheckpointDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", cfg.CheckpointDir)
	}
	runPath := filepath.Join(cfg.CheckpointDir, runConfigName(cfg.Seed))
	if err := cfg.WriteYAML(fs, runPath); err != nil {
		return err
	}

	results, err := trainer.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warnf("interrupted after %d epochs: %v", len(results), err)
		}
		return err
	}

	if n := len(results); n > 0 {
		last := results[n-1]
		logger.Infof("final test accuracy %.2f%% after epoch %d", last.TestAcc, last.Epoch)
	}
	logger.Infof("Simulation Duration: %v", time.Since(simStart).Round(time.Second))
	logger.Infof("END SIMULATION: %s", time.Now().Format("2006-01-02 15:04"))
	return nil
}
