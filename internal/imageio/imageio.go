// Package imageio decodes uploaded photographs and writes the normalized copy the landmark
// detector reads.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format names, upper-cased as they appear in file extensions.
const (
	FormatJPEG = "JPEG"
	FormatPNG  = "PNG"
	FormatGIF  = "GIF"
	FormatBMP  = "BMP"
	FormatTIFF = "TIFF"
	FormatWEBP = "WEBP"
)

// DefaultMaxPixels bounds the decoded size of an upload.
const DefaultMaxPixels = 40_000_000

var (
	// ErrUnreadable means the payload is not an image this build can decode.
	ErrUnreadable = errors.New("unreadable image")
	// ErrTooLarge means the header declares more pixels than allowed.
	ErrTooLarge = errors.New("image dimensions too large")
)

var knownFormats = map[string]string{
	"JPEG": FormatJPEG,
	"JPG":  FormatJPEG,
	"PNG":  FormatPNG,
	"GIF":  FormatGIF,
	"BMP":  FormatBMP,
	"TIF":  FormatTIFF,
	"TIFF": FormatTIFF,
	"WEBP": FormatWEBP,
}

// ResolveFormat picks the format from the filename extension, falling back to the format
// sniffed from the payload and then to JPEG.
func ResolveFormat(filename, sniffed string) string {
	ext := strings.ToUpper(strings.TrimPrefix(filepath.Ext(filename), "."))
	if f, ok := knownFormats[ext]; ok {
		return f
	}
	if f, ok := knownFormats[strings.ToUpper(sniffed)]; ok {
		return f
	}
	return FormatJPEG
}

// HasImageExtension reports whether filename carries an extension of a known format.
func HasImageExtension(filename string) bool {
	_, ok := knownFormats[strings.ToUpper(strings.TrimPrefix(filepath.Ext(filename), "."))]
	return ok
}

// Decoded is an upload after orientation has been applied.
type Decoded struct {
	Image   image.Image
	Format  string
	Sniffed string
}

// Decoder turns raw upload bytes into an upright image.
type Decoder struct {
	MaxPixels int
}

// NewDecoder returns a Decoder with the default pixel bound.
func NewDecoder() *Decoder {
	return &Decoder{MaxPixels: DefaultMaxPixels}
}

// Decode sniffs the header, then decodes with EXIF auto-orientation.
func (d *Decoder) Decode(filename string, data []byte) (*Decoded, error) {
	cfg, sniffed, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d bitmap", ErrUnreadable, cfg.Width, cfg.Height)
	}
	if d.MaxPixels > 0 && cfg.Width*cfg.Height > d.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return &Decoded{
		Image:   img,
		Format:  ResolveFormat(filename, sniffed),
		Sniffed: sniffed,
	}, nil
}

// Open reads back an image written by Save. Save never writes EXIF, so no orientation is
// applied.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return img, nil
}

// encoding maps a format to its encoder and file extension. WEBP has no encoder and is
// written as PNG.
func encoding(format string) (imaging.Format, string) {
	switch format {
	case FormatPNG, FormatWEBP:
		return imaging.PNG, "png"
	case FormatGIF:
		return imaging.GIF, "gif"
	case FormatBMP:
		return imaging.BMP, "bmp"
	case FormatTIFF:
		return imaging.TIFF, "tiff"
	default:
		return imaging.JPEG, "jpg"
	}
}

// Filename is name with the extension Save uses for format.
func Filename(name, format string) string {
	_, ext := encoding(format)
	return name + "." + ext
}

// Save writes img to path in the given format.
func Save(path string, img image.Image, format string) error {
	enc, _ := encoding(format)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := imaging.Encode(f, img, enc, imaging.JPEGQuality(95)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
