package main

import (
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// EpochRecord is one row of a run's history.
type EpochRecord struct {
	Epoch        int     `csv:"epoch"`
	TrainLoss    float64 `csv:"train_loss"`
	TrainAcc     float64 `csv:"train_acc"`
	TestLoss     float64 `csv:"test_loss"`
	TestAcc      float64 `csv:"test_acc"`
	LR           float64 `csv:"lr"`
	LambdaMean   float64 `csv:"lambda_mean"`
	LambdaStd    float64 `csv:"lambda_std"`
	BatchLossStd float64 `csv:"batch_loss_std"`
	Seconds      float64 `csv:"seconds"`
}

// HistoryPath is the history file of the named run.
func HistoryPath(dir, name string) string {
	return filepath.Join(dir, name+"_history.csv")
}

// ReadHistory loads a history file. A missing or empty file is an empty
// history.
func ReadHistory(fs afero.Fs, path string) ([]EpochRecord, error) {
	b, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var records []EpochRecord
	if err := gocsv.UnmarshalBytes(b, &records); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return records, nil
}

// AppendHistory adds rec to the history at path. Rows for rec's epoch or
// later are dropped first, so a resumed run replaces what it recomputes.
func AppendHistory(fs afero.Fs, path string, rec EpochRecord) error {
	records, err := ReadHistory(fs, path)
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.Epoch < rec.Epoch {
			kept = append(kept, r)
		}
	}
	kept = append(kept, rec)

	out, err := gocsv.MarshalBytes(&kept)
	if err != nil {
		return errors.Wrap(err, "encoding history")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, out, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrapf(fs.Rename(tmp, path), "renaming %s", tmp)
}
