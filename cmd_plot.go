package main

import (
	"os"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ===========================================================================
// PLOT CLI - Loss and Accuracy Curves
// ===========================================================================
//
//   mixtrain plot --history 0_history.csv --out curves.png
//
// Reads a run's per-epoch history and draws two panels side by side: train
// and test loss, train and test accuracy, both against the epoch.
//
// ===========================================================================

type plotArgs struct {
	History string `arg:"--history,required" help:"history CSV written by train"`
	Out     string `arg:"--out" help:"output PNG path"`
	Width   int    `arg:"--width" help:"image width in points"`
	Height  int    `arg:"--height" help:"image height in points"`
}

// RunPlotCommand implements the plot subcommand.
func RunPlotCommand(args []string) error {
	pa := plotArgs{Out: "history.png", Width: 800, Height: 300}
	p, err := arg.NewParser(arg.Config{Program: "mixtrain plot"}, &pa)
	if err != nil {
		return errors.Wrap(err, "building argument parser")
	}
	if err := p.Parse(args); err == arg.ErrHelp {
		p.WriteHelp(os.Stdout)
		return nil
	} else if err != nil {
		return err
	}
	return plotHistory(afero.NewOsFs(), pa)
}

func plotHistory(fs afero.Fs, pa plotArgs) error {
	if pa.Width <= 0 || pa.Height <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "image size %dx%d", pa.Width, pa.Height)
	}
	records, err := ReadHistory(fs, pa.History)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.Errorf("%s: no epochs recorded", pa.History)
	}

	lossPlot, err := curvePlot("Loss", records, "train", func(r EpochRecord) float64 { return r.TrainLoss },
		"test", func(r EpochRecord) float64 { return r.TestLoss })
	if err != nil {
		return err
	}
	accPlot, err := curvePlot("Accuracy (%)", records, "train", func(r EpochRecord) float64 { return r.TrainAcc },
		"test", func(r EpochRecord) float64 { return r.TestAcc })
	if err != nil {
		return err
	}

	w, h := vg.Length(pa.Width), vg.Length(pa.Height)
	img := vgimg.New(w, h)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 4}
	canvases := plot.Align([][]*plot.Plot{{lossPlot, accPlot}}, tiles, dc)
	lossPlot.Draw(canvases[0][0])
	accPlot.Draw(canvases[0][1])

	f, err := fs.Create(pa.Out)
	if err != nil {
		return errors.Wrapf(err, "creating %s", pa.Out)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", pa.Out)
	}
	return errors.Wrapf(f.Close(), "closing %s", pa.Out)
}

func curvePlot(title string, records []EpochRecord, nameA string, a func(EpochRecord) float64, nameB string, b func(EpochRecord) float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"

	if err := plotutil.AddLines(p, nameA, historyXYs(records, a), nameB, historyXYs(records, b)); err != nil {
		return nil, errors.Wrapf(err, "plotting %s", title)
	}
	return p, nil
}

func historyXYs(records []EpochRecord, value func(EpochRecord) float64) plotter.XYs {
	pts := make(plotter.XYs, len(records))
	for i, r := range records {
		pts[i].X = float64(r.Epoch)
		pts[i].Y = value(r)
	}
	return pts
}
