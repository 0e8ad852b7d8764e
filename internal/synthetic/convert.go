package synthetic

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
)

// PlaceholderConvertedSize is reported in getattr for a CONVERT_BIT inode
// before its true encoded size is known.
const PlaceholderConvertedSize = 1 << 20 // 1 MiB

// ConvertPNGToJPEG decodes the PNG at absPath and re-encodes it as JPEG, for
// the synthetic .jpg view of a real .png file.
func ConvertPNGToJPEG(absPath string) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", absPath, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding png %s: %w", absPath, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

// PNGSiblingName returns the .png name that would satisfy a .jpg lookup that
// missed on disk, or ok=false if name isn't a .jpg name.
func PNGSiblingName(name string) (string, bool) {
	const jpgExt = ".jpg"
	if len(name) <= len(jpgExt) || name[len(name)-len(jpgExt):] != jpgExt {
		return "", false
	}
	return name[:len(name)-len(jpgExt)] + ".png", true
}
