package main

import (
	"fmt"
	"image/color"

	"github.com/milosgajdos/ultimatekalman/internal/reference"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// writePlot renders truth, observations and the smoothed estimate as
// three scatter series and saves them to path, adapted from the
// teacher's New2DPlot for the rotation scenario's 2D trajectories.
func writePlot(scenario *reference.Scenario, estimates []*mat.VecDense, path string) error {
	p := plot.New()
	p.Title.Text = "Rotation scenario"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	truthScatter, err := plotter.NewScatter(vecPoints(scenario.Truth))
	if err != nil {
		return err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(truthScatter)
	p.Legend.Add("truth", truthScatter)

	obsScatter, err := plotter.NewScatter(vecPoints(scenario.Observations))
	if err != nil {
		return err
	}
	obsScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	obsScatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(obsScatter)
	p.Legend.Add("observed", obsScatter)

	estScatter, err := plotter.NewScatter(vecPoints(estimates))
	if err != nil {
		return fmt.Errorf("failed to create scatter: %w", err)
	}
	estScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169, A: 255}
	estScatter.Shape = draw.CrossGlyph{}
	estScatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(estScatter)
	p.Legend.Add("smoothed", estScatter)

	return p.Save(10*vg.Inch, 10*vg.Inch, path)
}

func vecPoints(vecs []*mat.VecDense) plotter.XYs {
	pts := make(plotter.XYs, len(vecs))
	for i, v := range vecs {
		pts[i].X = v.AtVec(0)
		pts[i].Y = v.AtVec(1)
	}
	return pts
}
