package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"go-dimension-detective/internal/container"
	"go-dimension-detective/internal/export"
	"go-dimension-detective/internal/observer"
	"go-dimension-detective/internal/source"
	"go-dimension-detective/pkg/models"
)

type measureOptions struct {
	referenceSize string
	unit          string
	exportPath    string
	latency       time.Duration
}

// NewMeasureCommand .
func NewMeasureCommand() *cobra.Command {
	opts := measureOptions{}

	cmd := &cobra.Command{
		Use:   "measure <image>",
		Short: "Measure an image file locally",
		Long:  "Calibrate against a reference size, measure the image with the configured engine and optionally write the annotated export.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("warn")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("latency") {
				cfg.StubLatency = opts.latency
			}

			c, err := container.NewContainer(cfg)
			if err != nil {
				return pkgerrors.Wrap(err, "failed to initialize container")
			}
			defer c.Close()

			c.Observe(&consoleObserver{out: cmd.OutOrStdout()})
			return runMeasure(cmd.Context(), c, args[0], opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.referenceSize, "reference-size", "r", "", "size of the reference object (required)")
	flags.StringVarP(&opts.unit, "unit", "u", string(models.UnitCentimeter), "unit of the reference size (cm, mm, in)")
	flags.StringVarP(&opts.exportPath, "export", "o", "", "write the annotated PNG to this path")
	flags.DurationVar(&opts.latency, "latency", 0, "override the stub engine latency")
	_ = cmd.MarkFlagRequired("reference-size")

	return cmd
}

func runMeasure(ctx context.Context, c *container.Container, path string, opts measureOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctrl := c.NewController("cli")
	defer ctrl.Close()

	if _, err := ctrl.CalibrateText(opts.referenceSize, opts.unit); err != nil {
		return pkgerrors.Wrap(err, "invalid calibration")
	}

	payload, err := source.NewPathSource(c.Decoder(), path).Acquire(ctx)
	if err != nil {
		ctrl.ReportAcquisitionFailure(err)
		return pkgerrors.Wrapf(err, "failed to read %s", path)
	}
	if err := ctrl.AcquireImage(payload); err != nil {
		return pkgerrors.Wrap(err, "failed to accept image")
	}
	ctrl.Wait()

	snap := ctrl.Snapshot()
	if snap.Result == nil {
		return pkgerrors.Errorf("measurement failed: %s", snap.LastError)
	}

	view := export.Present(snap)
	bold := color.New(color.Bold)
	fmt.Fprintln(out)
	bold.Fprintf(out, "%s %s\n", view.Title, view.Disclaimer)
	fmt.Fprintf(out, "  %s (%dx%d px)\n", path, payload.Width(), payload.Height())
	for _, m := range view.Metrics {
		fmt.Fprintf(out, "  %-13s %s\n", m.Name+":", color.New(color.Bold, color.FgGreen).Sprint(m.Value))
	}

	if opts.exportPath == "" {
		return nil
	}
	artifact, err := c.Exporter().Export(ctx, snap)
	if err == nil {
		err = os.WriteFile(opts.exportPath, artifact.Data, 0o644)
	}
	ctrl.ReportExport(opts.exportPath, err)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to export to %s", opts.exportPath)
	}
	return nil
}

// consoleObserver prints notifications as they are raised
type consoleObserver struct {
	out io.Writer
}

func (o *consoleObserver) OnEvent(_ context.Context, event observer.Event) {
	if event.Kind == models.NotifyComputationStarted {
		fmt.Fprintf(o.out, "%s\n", color.New(color.Faint).Sprint(event.Description))
		return
	}
	title := color.New(color.Bold, color.FgGreen).Sprint(event.Title)
	if event.Variant == models.VariantDestructive {
		title = color.New(color.Bold, color.FgRed).Sprint(event.Title)
	}
	fmt.Fprintf(o.out, "%s: %s\n", title, event.Description)
}

func (o *consoleObserver) GetObserverName() string {
	return "console"
}
