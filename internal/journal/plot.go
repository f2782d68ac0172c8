package journal

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/colocate/internal/pose"
)

var (
	localColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	remoteColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	pairColor   = color.RGBA{R: 160, G: 160, B: 160, A: 255}
)

// newPlot builds a top-down (X/Z) view of the fingertip positions in
// rounds: local points, remote points, and a line joining each matched pair.
func newPlot(rounds []Round) (*plot.Plot, error) {
	if len(rounds) == 0 {
		return nil, ErrNoRounds
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration rounds (%d)", len(rounds))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	local := make(plotter.XYs, 0, 2*len(rounds))
	remote := make(plotter.XYs, 0, 2*len(rounds))
	for _, r := range rounds {
		for _, pair := range [][2]plotter.XY{
			{xz(r.Local.Left), xz(r.Remote.Left)},
			{xz(r.Local.Right), xz(r.Remote.Right)},
		} {
			local = append(local, pair[0])
			remote = append(remote, pair[1])

			line, err := plotter.NewLine(plotter.XYs{pair[0], pair[1]})
			if err != nil {
				return nil, err
			}
			line.Color = pairColor
			line.Width = vg.Points(0.5)
			line.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
			p.Add(line)
		}
	}

	ls, err := plotter.NewScatter(local)
	if err != nil {
		return nil, err
	}
	ls.GlyphStyle.Color = localColor
	ls.GlyphStyle.Shape = draw.CircleGlyph{}
	ls.GlyphStyle.Radius = vg.Points(3)

	rs, err := plotter.NewScatter(remote)
	if err != nil {
		return nil, err
	}
	rs.GlyphStyle.Color = remoteColor
	rs.GlyphStyle.Shape = draw.TriangleGlyph{}
	rs.GlyphStyle.Radius = vg.Points(3)

	p.Add(ls, rs)
	p.Legend.Add("local", ls)
	p.Legend.Add("remote", rs)
	p.Legend.Top = true
	return p, nil
}

// xz projects a fingertip onto the floor plane.
func xz(t pose.Transform) plotter.XY {
	v := t.Position()
	return plotter.XY{X: v.X, Y: v.Z}
}

// RenderPlot saves a PNG of rounds to path.
func RenderPlot(rounds []Round, path string) error {
	p, err := newPlot(rounds)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// WritePlot writes a PNG of rounds to w.
func WritePlot(w io.Writer, rounds []Round) error {
	p, err := newPlot(rounds)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
