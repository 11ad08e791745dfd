package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/agro-analyzer/pkg/types"
)

// ErrUnknownFormat is returned when no decoder accepts the input
var ErrUnknownFormat = errors.New("image: unknown or unsupported format")

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchURL downloads raw image bytes from a URL
func (p *Processor) FetchURL(imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Agro-Analyzer/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// ReadSource returns the raw bytes of a file path or http(s) URL
func (p *Processor) ReadSource(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.FetchURL(source)
	}
	return os.ReadFile(source)
}

// DecodeImage decodes JPEG, PNG, GIF, BMP, TIFF or WebP bytes
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUnknownFormat
	}

	if img, err := imaging.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Extended WebP features the x/image decoder does not handle
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, ErrUnknownFormat
}

// PrepareImageForModel converts an image to base64 for sending to detection models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	data, err := p.EncodeForUpload(img, format, maxDim, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeForUpload downscales img so its long side is at most maxDim and
// encodes it as JPEG or PNG.
func (p *Processor) EncodeForUpload(img image.Image, format string, maxDim int, quality int) ([]byte, error) {
	img = FitLongSide(img, maxDim)

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default: // jpg
		if quality <= 0 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// FitLongSide resizes img so that its long side is at most maxDim. A
// non-positive maxDim leaves the image untouched.
func FitLongSide(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}

// CropImageToBox crops an image to the specified normalized box
func (p *Processor) CropImageToBox(img image.Image, box types.Box, targetWidth, targetHeight int) (image.Image, error) {
	bounds := img.Bounds()
	fw, fh := float64(bounds.Dx()), float64(bounds.Dy())

	x0 := int(clamp(box.X, 0, 1)*fw + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*fh + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*fw + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*fh + 0.5)

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle")
	}

	cropped := imaging.Crop(img, rect)

	if targetWidth > 0 && targetHeight > 0 {
		cropped = imaging.Fill(cropped, targetWidth, targetHeight, imaging.Center, imaging.Lanczos)
	}

	return cropped, nil
}

// CalculateOptimalCropBox calculates the largest box of the target aspect
// ratio centered on a normalized point, scaled down by zoom.
func (p *Processor) CalculateOptimalCropBox(centerX, centerY float64, targetWidth, targetHeight, imgWidth, imgHeight int, zoom float64) types.Box {
	if zoom <= 0 {
		zoom = 1
	}

	r := float64(targetWidth) / float64(targetHeight) // target aspect W/H

	cx := centerX * float64(imgWidth)
	cy := centerY * float64(imgHeight)

	// Max half extents allowed by image bounds
	halfWMax := math.Min(cx, float64(imgWidth)-cx)
	halfHMax := math.Min(cy, float64(imgHeight)-cy)

	// Width is limited by horizontal bounds AND by vertical bounds scaled by aspect
	maxWidthPx := math.Min(2*halfWMax, r*(2*halfHMax))
	widthPx := maxWidthPx * clamp(zoom, 0.01, 1.0)
	heightPx := widthPx / r

	x0 := clamp(cx-widthPx/2, 0, float64(imgWidth)-widthPx)
	y0 := clamp(cy-heightPx/2, 0, float64(imgHeight)-heightPx)

	return types.Box{
		X: x0 / float64(imgWidth),
		Y: y0 / float64(imgHeight),
		W: widthPx / float64(imgWidth),
		H: heightPx / float64(imgHeight),
	}
}

// Thumbnail cuts a square preview of size px around pixel (x, y). zoom
// shrinks the window relative to the largest square that fits; the window
// is upscaled when the image is smaller than size.
func (p *Processor) Thumbnail(img image.Image, x, y, size int, zoom float64) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}
	// Keep a minimum window around points that sit on the border, never
	// wider than the image itself
	margin := math.Max(1, float64(size)/2)
	margin = math.Min(margin, float64(min(w, h))/2)
	cx := clamp(float64(x), margin, float64(w)-margin) / float64(w)
	cy := clamp(float64(y), margin, float64(h)-margin) / float64(h)

	box := p.CalculateOptimalCropBox(cx, cy, size, size, w, h, zoom)
	return p.CropImageToBox(img, box, size, size)
}

// EncodeImage encodes an image as jpg, png or webp
func (p *Processor) EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	default: // jpg/jpeg
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.EncodeImage(f, img, format, quality, lossless); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Mark is something to draw on a debug overlay: an optional pixel box
// (center and size) and an optional crosshair.
type Mark struct {
	Box      *types.Detection
	Point    *image.Point
	Color    color.NRGBA
	Rejected bool // point fell back to a static direction; drawn as an X
}

// CreateDebugOverlay draws the lens circles, detection boxes and refined
// points on a copy of img.
func (p *Processor) CreateDebugOverlay(img image.Image, marks []Mark) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	lens := color.NRGBA{255, 255, 255, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side
	cross := int(math.Max(4, 0.01*float64(min(w, h))))   // ~1% of min side

	// Lens rims
	radius := float64(h) / 2
	drawCircle(nrgba, float64(w)/4, float64(h)/2, radius, lens)
	drawCircle(nrgba, 3*float64(w)/4, float64(h)/2, radius, lens)

	for _, m := range marks {
		if m.Box != nil {
			x0 := int(m.Box.X - m.Box.Width/2)
			y0 := int(m.Box.Y - m.Box.Height/2)
			x1 := int(m.Box.X + m.Box.Width/2)
			y1 := int(m.Box.Y + m.Box.Height/2)
			drawRect(nrgba, x0, y0, x1, y1, m.Color, stroke)
		}
		if m.Point != nil {
			px, py := m.Point.X, m.Point.Y
			if m.Rejected {
				drawDiagonals(nrgba, px, py, cross, m.Color)
			} else {
				for s := -stroke / 2; s <= stroke/2; s++ {
					drawHLine(nrgba, py+s, px-cross, px+cross, m.Color)
					drawVLine(nrgba, px+s, py-cross, py+cross, m.Color)
				}
			}
		}
	}

	return nrgba
}

// Helper functions
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawCircle(img *image.NRGBA, cx, cy, r float64, c color.NRGBA) {
	steps := int(2 * math.Pi * r)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		setPixel(img, int(cx+r*math.Cos(a)), int(cy+r*math.Sin(a)), c)
	}
}

func drawDiagonals(img *image.NRGBA, cx, cy, size int, c color.NRGBA) {
	for d := -size; d <= size; d++ {
		setPixel(img, cx+d, cy+d, c)
		setPixel(img, cx+d, cy-d, c)
	}
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return
	}
	img.SetNRGBA(x, y, c)
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
