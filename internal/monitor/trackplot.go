package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/security"
)

// WriteTrackPlots renders the position history as PNG files in outputDir:
// the floor track (x/y path) and confidence over time. Returns the
// written file paths. Positions are expected newest first, as the
// database returns them.
func WriteTrackPlots(outputDir string, positions []pipeline.PositionEstimate) ([]string, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions to plot")
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	subject := security.SanitizeFilename(positions[0].SubjectID)
	dir := filepath.Join(outputDir, subject+"_"+time.Now().UTC().Format("20060102_150405"))
	if err := security.ValidatePathWithinDirectory(dir, outputDir); err != nil {
		return nil, fmt.Errorf("refusing plot path: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	// Oldest first for drawing.
	ordered := make([]pipeline.PositionEstimate, len(positions))
	for i, p := range positions {
		ordered[len(positions)-1-i] = p
	}

	trackPts := make(plotter.XYs, 0, len(ordered))
	confPts := make(plotter.XYs, 0, len(ordered))
	start := ordered[0].Timestamp
	for _, p := range ordered {
		trackPts = append(trackPts, plotter.XY{X: p.X, Y: p.Y})
		confPts = append(confPts, plotter.XY{X: p.Timestamp.Sub(start).Seconds(), Y: p.Confidence})
	}

	var files []string

	pTrack := plot.New()
	pTrack.Title.Text = "Tag Track"
	pTrack.X.Label.Text = "X (cm)"
	pTrack.Y.Label.Text = "Y (cm)"
	trackLine, err := plotter.NewLine(trackPts)
	if err != nil {
		return nil, fmt.Errorf("failed to build track line: %w", err)
	}
	trackLine.Width = vg.Points(1)
	pTrack.Add(trackLine)
	trackFile := filepath.Join(dir, "track.png")
	if err := pTrack.Save(8*vg.Inch, 8*vg.Inch, trackFile); err != nil {
		return nil, fmt.Errorf("failed to save track plot: %w", err)
	}
	files = append(files, trackFile)

	pConf := plot.New()
	pConf.Title.Text = "Fix Confidence"
	pConf.X.Label.Text = "Seconds"
	pConf.Y.Label.Text = "Confidence"
	pConf.Y.Min, pConf.Y.Max = 0, 1
	confLine, err := plotter.NewLine(confPts)
	if err != nil {
		return nil, fmt.Errorf("failed to build confidence line: %w", err)
	}
	confLine.Width = vg.Points(1)
	pConf.Add(confLine)
	confFile := filepath.Join(dir, "confidence.png")
	if err := pConf.Save(14*vg.Inch, 4*vg.Inch, confFile); err != nil {
		return nil, fmt.Errorf("failed to save confidence plot: %w", err)
	}
	files = append(files, confFile)

	return files, nil
}
