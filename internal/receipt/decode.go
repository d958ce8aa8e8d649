package receipt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// ErrDecode is returned for input that cannot be turned into an image
var ErrDecode = errors.New("decode error")

// Input is one receipt image. Exactly one of Bytes, Base64 or Image should be
// set; the first non-empty one in that order is used.
type Input struct {
	Bytes  []byte
	Base64 string // optionally prefixed with data:image/<fmt>;base64,
	Image  image.Image

	ContentType string // sniffed from the bytes when empty
	Filename    string
	Owner       string // caller's user or session, carried onto the persisted receipt
}

// decoded is the pipeline's view of an Input
type decoded struct {
	img         image.Image
	data        []byte // original encoded bytes, kept for upload
	contentType string
}

func decodeInput(in Input) (*decoded, error) {
	if in.Image != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, in.Image, imaging.PNG); err != nil {
			return nil, fmt.Errorf("%w: encoding PNG: %w", ErrDecode, err)
		}
		return &decoded{img: in.Image, data: buf.Bytes(), contentType: "image/png"}, nil
	}

	data := in.Bytes
	contentType := in.ContentType
	if len(data) == 0 && in.Base64 != "" {
		var err error
		var urlType string
		data, urlType, err = decodeBase64(in.Base64)
		if err != nil {
			return nil, err
		}
		if contentType == "" {
			contentType = urlType
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no image data", ErrDecode)
	}

	contentType = detectContentType(data, contentType)
	img, err := decodeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return &decoded{img: img, data: data, contentType: contentType}, nil
}

// decodeBase64 strips an optional data URL header and decodes the payload.
// It returns the media type named in the header, if any.
func decodeBase64(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var mediaType string
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("%w: malformed data URL", ErrDecode)
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("%w: data URL is not base64 encoded", ErrDecode)
		}
		mediaType = strings.TrimSuffix(header, ";base64")
		s = s[comma+1:]
	}

	s = strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid base64: %w", ErrDecode, err)
	}
	return data, mediaType, nil
}

// detectContentType normalizes the declared type, or sniffs one from data
func detectContentType(data []byte, declared string) string {
	if isHEICFormat(data) {
		return "image/heic"
	}
	mimeType := baseMediaType(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return baseMediaType(http.DetectContentType(data))
	}
	return mimeType
}

func baseMediaType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	switch {
	case mimeType == "application/pdf":
		return pdfToImage(data)
	case isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("unsupported image format %q, supported: %s: %w",
				mimeType, strings.Join(imageFormats, ", "), err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF; receipts are single page
func pdfToImage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
