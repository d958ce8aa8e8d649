package extraction

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"image"
)

// Fingerprint hashes the bounds and pixel data of img. Identical pixels give
// identical keys regardless of how the image was encoded on the wire.
func Fingerprint(img image.Image) string {
	h := sha256.New()
	b := img.Bounds()
	writeInts(h, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)

	switch m := img.(type) {
	case *image.Gray:
		h.Write([]byte("gray"))
		h.Write(m.Pix)
	case *image.RGBA:
		h.Write([]byte("rgba"))
		h.Write(m.Pix)
	case *image.NRGBA:
		h.Write([]byte("nrgba"))
		h.Write(m.Pix)
	default:
		h.Write([]byte("generic"))
		buf := make([]byte, 0, b.Dx()*8)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			buf = buf[:0]
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, a := img.At(x, y).RGBA()
				buf = binary.BigEndian.AppendUint16(buf, uint16(r))
				buf = binary.BigEndian.AppendUint16(buf, uint16(g))
				buf = binary.BigEndian.AppendUint16(buf, uint16(bl))
				buf = binary.BigEndian.AppendUint16(buf, uint16(a))
			}
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeInts(h hash.Hash, vals ...int) {
	var buf [8]byte
	for _, v := range vals {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
}
