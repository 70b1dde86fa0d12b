package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/apnea-detection/internal/calibrate"
	"github.com/roman-kulish/apnea-detection/internal/ecg"
)

const (
	dpi      = 72.0
	fontSize = 14.0

	defaultWidth       = 1200
	defaultPanelHeight = 220
	defaultPanelGap    = 40

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 20
	defaultBottomBorder = 40
	defaultRightBorder  = 20
)

// BorderConfig defines the sizes of white space around the traces
type BorderConfig struct {
	Top    int // Space for the first panel label
	Left   int
	Bottom int // Space for the information bar
	Right  int
}

// RenderConfig holds the layout of the exemplar plot
type RenderConfig struct {
	Width       int     // Trace width in pixels
	PanelHeight int     // Height of each trace panel
	PanelGap    int     // Space between panels, holds the second label
	SampleRate  float64 // Used for the dominant frequency label
	FontSize    float64

	BorderConfig BorderConfig
}

// ExemplarRenderer draws both exemplar windows of a calibration as min/max
// envelopes, one panel per class.
type ExemplarRenderer struct {
	config RenderConfig
}

// NewExemplarRenderer creates a new renderer, zero values take defaults.
func NewExemplarRenderer(config RenderConfig) *ExemplarRenderer {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.PanelHeight == 0 {
		config.PanelHeight = defaultPanelHeight
	}
	if config.PanelGap == 0 {
		config.PanelGap = defaultPanelGap
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &ExemplarRenderer{config: config}
}

type panel struct {
	class ecg.Label
	e     calibrate.Exemplar
	area  image.Rectangle
}

// Render creates the plot of c.
func (r *ExemplarRenderer) Render(c calibrate.Calibration) (*image.RGBA, error) {
	if len(c.Apnea.Window) == 0 || len(c.Normal.Window) == 0 {
		return nil, errors.New("exemplar window is empty")
	}

	b := r.config.BorderConfig
	fullWidth := r.config.Width + b.Left + b.Right
	fullHeight := b.Top + 2*r.config.PanelHeight + r.config.PanelGap + b.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	top := image.Rect(b.Left, b.Top, b.Left+r.config.Width, b.Top+r.config.PanelHeight)
	panels := []panel{
		{class: ecg.Apnea, e: c.Apnea, area: top},
		{class: ecg.Normal, e: c.Normal, area: top.Add(image.Pt(0, r.config.PanelHeight+r.config.PanelGap))},
	}

	amplitude := peak(c.Apnea.Window, c.Normal.Window)
	for _, p := range panels {
		drawHLine(img, p.area.Min.X, p.area.Max.X, p.area.Min.Y+p.area.Dy()/2, axisColor)
		drawEnvelope(img, p.area, p.e.Window, amplitude, probabilityColor(p.e.Probability))
	}

	ann, err := newAnnotator(r.config.FontSize)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	labels := make([]string, len(panels))
	for i, p := range panels {
		labels[i] = r.label(p)
	}
	if err = ann.annotate(img, panels, labels, r.infoBar(c, amplitude), b); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}

	return img, nil
}

func (r *ExemplarRenderer) infoBar(c calibrate.Calibration, amplitude float64) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Threshold: %.4f", c.Threshold()))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Window: %s samples", humanize.Comma(int64(len(c.Apnea.Window)))))
	if r.config.SampleRate > 0 {
		sb.WriteString(fmt.Sprintf(" @ %.0f Hz", r.config.SampleRate))
	}
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Scale: ±%.2f", amplitude))
	return sb.String()
}

func (r *ExemplarRenderer) label(p panel) string {
	title := "APNEA"
	if p.class == ecg.Normal {
		title = "NORMAL"
	}

	label := fmt.Sprintf("%s %s, minute %d, p=%.4f", title, p.e.Record, p.e.Minute, p.e.Probability)
	if r.config.SampleRate > 0 {
		label += fmt.Sprintf(", dominant %.2f Hz", ecg.DominantFrequency(p.e.Window, r.config.SampleRate))
	}
	return label
}

// peak returns the largest finite absolute value over all windows, 1 if
// there is none.
func peak(windows ...[]float32) float64 {
	var m float64
	for _, w := range windows {
		for _, v := range w {
			a := math.Abs(float64(v))
			if !math.IsNaN(a) && !math.IsInf(a, 0) && a > m {
				m = a
			}
		}
	}
	if m == 0 {
		return 1
	}
	return m
}

// drawEnvelope draws, for every pixel column, a vertical line between the
// minimum and maximum of the samples mapped to that column.
func drawEnvelope(img *image.RGBA, area image.Rectangle, window []float32, amplitude float64, c color.Color) {
	width, n := area.Dx(), len(window)
	half := float64(area.Dy()-1) / 2
	mid := float64(area.Min.Y) + half

	toY := func(v float64) int {
		y := int(math.Round(mid - v/amplitude*half))
		return max(area.Min.Y, min(area.Max.Y-1, y))
	}

	for x := 0; x < width; x++ {
		start := x * n / width
		end := (x + 1) * n / width
		if start >= n {
			break
		}
		if end <= start {
			end = start + 1
		}

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range window[start:end] {
			f := float64(v)
			if math.IsNaN(f) {
				continue
			}
			lo, hi = math.Min(lo, f), math.Max(hi, f)
		}
		if lo > hi {
			continue
		}

		for y := toY(hi); y <= toY(lo); y++ {
			img.Set(area.Min.X+x, y, c)
		}
	}
}

func drawHLine(img *image.RGBA, x0, x1, y int, c color.Color) {
	for x := x0; x < x1; x++ {
		img.Set(x, y, c)
	}
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
}

func newAnnotator(size float64) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, panels []panel, labels []string, info string, borders BorderConfig) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	metrics := a.fontFace.Metrics()
	descent := metrics.Descent.Round()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for i, p := range panels {
		// 4 px margin above the panel
		pt := freetype.Pt(p.area.Min.X, p.area.Min.Y-descent-4)
		if _, err := a.context.DrawString(labels[i], pt); err != nil {
			return fmt.Errorf("drawing panel label: %w", err)
		}
	}

	// center the info bar vertically in the bottom border
	textY := img.Bounds().Max.Y - (borders.Bottom-fontHeight)/2 - descent
	if _, err := a.context.DrawString(info, freetype.Pt(borders.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

// writeImage encodes img as JPEG when path ends in .jpg or .jpeg and as PNG
// otherwise. The file is written next to path and renamed into place.
func writeImage(path string, img image.Image) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating plot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".plot-*")
	if err != nil {
		return fmt.Errorf("creating temporary plot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(tmp, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		err = png.Encode(tmp, img)
	}
	if err != nil {
		return fmt.Errorf("encoding plot: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing plot file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming plot file: %w", err)
	}
	return nil
}
