package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

const (
	DefaultMinContourArea = 1000.0
	DefaultMinAspect      = 1.5
	DefaultMaxAspect      = 6.0
	DefaultSkewThreshold  = 5.0
	DefaultBorder         = 20
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Config tunes the preprocessing pipeline. Zero values use the defaults above.
type Config struct {
	MinContourArea float64
	MinAspect      float64
	MaxAspect      float64
	// SkewThreshold is the smallest rotation in degrees worth correcting
	SkewThreshold float64
	Border        int
}

// Preprocessor normalizes receipt photos for text extraction
type Preprocessor struct {
	cfg Config
}

// New creates a Preprocessor
func New(cfg Config) *Preprocessor {
	if cfg.MinContourArea <= 0 {
		cfg.MinContourArea = DefaultMinContourArea
	}
	if cfg.MinAspect <= 0 {
		cfg.MinAspect = DefaultMinAspect
	}
	if cfg.MaxAspect <= 0 {
		cfg.MaxAspect = DefaultMaxAspect
	}
	if cfg.SkewThreshold <= 0 {
		cfg.SkewThreshold = DefaultSkewThreshold
	}
	if cfg.Border <= 0 {
		cfg.Border = DefaultBorder
	}
	return &Preprocessor{cfg: cfg}
}

// Enhance runs boundary detection, perspective correction, deskew and
// contrast normalization. Each step is skipped when it does not apply. On
// failure the input image is returned with ok=false; callers should carry on
// with it.
func (p *Preprocessor) Enhance(img image.Image) (out image.Image, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Image preprocessing panicked", "panic", r)
			out, ok = img, false
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return img, false
	}

	src, err := toMat(img)
	if err != nil {
		slog.Warn("Failed to convert image for preprocessing", "error", err)
		return img, false
	}
	defer src.Close()

	work := src.Clone()
	defer func() { work.Close() }()

	if quad, found := p.findDocument(work); found {
		if warped, err := warp(work, quad); err == nil {
			work.Close()
			work = warped
			slog.Debug("Applied perspective correction", "width", work.Cols(), "height", work.Rows())
		} else {
			slog.Debug("Skipping perspective correction", "error", err)
		}
	} else {
		slog.Debug("No document boundary found, using full frame")
	}

	if rotated, angle, applied := p.deskew(work); applied {
		work.Close()
		work = rotated
		slog.Debug("Corrected skew", "angle", angle)
	}

	normalized := p.normalize(work)
	defer normalized.Close()

	result, err := normalized.ToImage()
	if err != nil {
		slog.Warn("Failed to convert preprocessed image", "error", err)
		return img, false
	}
	return result, true
}

// DetectEdges returns the edge map used to find the document boundary
func (p *Preprocessor) DetectEdges(img image.Image) (image.Image, error) {
	src, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	edges := edgeMap(src)
	defer edges.Close()

	out, err := edges.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting edge map: %w", err)
	}
	return out, nil
}

func toMat(img image.Image) (gocv.Mat, error) {
	if g, ok := img.(*image.Gray); ok {
		m, err := gocv.ImageGrayToMatGray(g)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("converting grayscale image: %w", err)
		}
		return m, nil
	}
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("converting image: %w", err)
	}
	return m, nil
}

func grayscale(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if src.Channels() == 1 {
		src.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	return gray
}

// edgeMap combines an inverted adaptive threshold, Canny edges and the Sobel
// gradient magnitude, then dilates so the receipt outline closes
func edgeMap(src gocv.Mat) gocv.Mat {
	gray := grayscale(src)
	defer gray.Close()

	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.BilateralFilter(gray, &smooth, 9, 75, 75)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(smooth, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, 11, 2)

	canny := gocv.NewMat()
	defer canny.Close()
	gocv.Canny(smooth, &canny, 50, 150)

	gradX, gradY := gocv.NewMat(), gocv.NewMat()
	defer gradX.Close()
	defer gradY.Close()
	gocv.Sobel(smooth, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(smooth, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absX, absY := gocv.NewMat(), gocv.NewMat()
	defer absX.Close()
	defer absY.Close()
	gocv.ConvertScaleAbs(gradX, &absX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absY, 1, 0)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.AddWeighted(absX, 0.5, absY, 0.5, 0, &magnitude)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.Threshold(magnitude, &gradient, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseOr(canny, gradient, &combined)
	gocv.BitwiseOr(combined, thresh, &combined)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()

	dilated := gocv.NewMat()
	gocv.Dilate(combined, &dilated, kernel)
	return dilated
}

// findDocument returns the corners of the largest contour shaped like a receipt
func (p *Preprocessor) findDocument(src gocv.Mat) ([]image.Point, bool) {
	edges := edgeMap(src)
	defer edges.Close()

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	frame := float64(src.Rows() * src.Cols())
	best, bestArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < p.cfg.MinContourArea || area > frame*0.98 {
			continue
		}
		rect := gocv.BoundingRect(c)
		if rect.Dx() == 0 {
			continue
		}
		aspect := float64(rect.Dy()) / float64(rect.Dx())
		if aspect < p.cfg.MinAspect || aspect > p.cfg.MaxAspect {
			continue
		}
		if area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return nil, false
	}

	contour := contours.At(best)
	approx := gocv.ApproxPolyDP(contour, 0.02*gocv.ArcLength(contour, true), true)
	defer approx.Close()

	if approx.Size() == 4 {
		return approx.ToPoints(), true
	}
	r := gocv.BoundingRect(contour)
	return []image.Point{r.Min, image.Pt(r.Max.X, r.Min.Y), r.Max, image.Pt(r.Min.X, r.Max.Y)}, true
}

// orderCorners sorts four points as top-left, top-right, bottom-right, bottom-left
func orderCorners(pts []image.Point) [4]image.Point {
	var out [4]image.Point
	sums := func(p image.Point) int { return p.X + p.Y }
	diffs := func(p image.Point) int { return p.Y - p.X }

	out[0], out[2] = pts[0], pts[0]
	out[1], out[3] = pts[0], pts[0]
	for _, pt := range pts[1:] {
		if sums(pt) < sums(out[0]) {
			out[0] = pt
		}
		if sums(pt) > sums(out[2]) {
			out[2] = pt
		}
		if diffs(pt) < diffs(out[1]) {
			out[1] = pt
		}
		if diffs(pt) > diffs(out[3]) {
			out[3] = pt
		}
	}
	return out
}

func distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

func warp(src gocv.Mat, quad []image.Point) (gocv.Mat, error) {
	c := orderCorners(quad)
	width := int(math.Max(distance(c[0], c[1]), distance(c[3], c[2])))
	height := int(math.Max(distance(c[0], c[3]), distance(c[1], c[2])))
	if width < 2 || height < 2 {
		return gocv.Mat{}, fmt.Errorf("degenerate quad %v", c)
	}

	from := gocv.NewPointVectorFromPoints(c[:])
	defer from.Close()
	to := gocv.NewPointVectorFromPoints([]image.Point{
		image.Pt(0, 0), image.Pt(width-1, 0), image.Pt(width-1, height-1), image.Pt(0, height-1),
	})
	defer to.Close()

	m := gocv.GetPerspectiveTransform(from, to)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, m, image.Pt(width, height))
	return dst, nil
}

// skewAngle is the median angle in degrees of the mostly horizontal Hough
// lines. Near-vertical lines are ignored.
func skewAngle(src gocv.Mat) (float64, bool) {
	gray := grayscale(src)
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, 100, 100, 10)

	var angles []float64
	for i := 0; i < lines.Rows(); i++ {
		l := lines.GetVeciAt(i, 0)
		angle := math.Atan2(float64(l[3]-l[1]), float64(l[2]-l[0])) * 180 / math.Pi
		if math.Abs(angle) > 45 {
			continue
		}
		angles = append(angles, angle)
	}
	if len(angles) == 0 {
		return 0, false
	}
	return median(angles), true
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// deskew levels src when its skew exceeds the threshold. The returned Mat is
// only valid, and owned by the caller, when applied is true.
func (p *Preprocessor) deskew(src gocv.Mat) (out gocv.Mat, angle float64, applied bool) {
	angle, found := skewAngle(src)
	if !found || math.Abs(angle) <= p.cfg.SkewThreshold {
		return gocv.Mat{}, angle, false
	}
	return rotate(src, angle), angle, true
}

func rotate(src gocv.Mat, angle float64) gocv.Mat {
	center := image.Pt(src.Cols()/2, src.Rows()/2)
	m := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, m, image.Pt(src.Cols(), src.Rows()),
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return dst
}

// normalize equalizes local contrast, denoises, binarizes and pads with white
func (p *Preprocessor) normalize(src gocv.Mat) gocv.Mat {
	var gray gocv.Mat
	if src.Channels() == 1 {
		gray = grayscale(src)
	} else {
		// color path: denoise per channel, then merge to gray
		denoised := gocv.NewMat()
		gocv.FastNlMeansDenoisingColoredWithParams(src, &denoised, 6, 6, 7, 21)
		gray = grayscale(denoised)
		denoised.Close()
	}
	defer gray.Close()

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(gray, &equalized)

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(equalized, &denoised, 10, 7, 21)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(denoised, &binary, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)

	b := p.cfg.Border
	out := gocv.NewMat()
	gocv.CopyMakeBorder(binary, &out, b, b, b, b, gocv.BorderConstant, white)
	return out
}
