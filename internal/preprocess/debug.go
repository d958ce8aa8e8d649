package preprocess

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// SaveDebugImages writes the original image and, when includeIntermediate is
// set, the edge map and the enhanced result into dir. The returned map holds
// the written paths keyed by "original", "edges" and "processed". On failure
// it also carries an "error" entry and stops writing.
func (p *Preprocessor) SaveDebugImages(dir, name string, img image.Image, includeIntermediate bool) map[string]string {
	paths := map[string]string{}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		paths["error"] = fmt.Sprintf("creating debug directory: %v", err)
		return paths
	}

	save := func(key string, im image.Image) bool {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", name, key))
		if err := imaging.Save(im, path, imaging.JPEGQuality(90)); err != nil {
			paths["error"] = fmt.Sprintf("saving %s image: %v", key, err)
			return false
		}
		paths[key] = path
		return true
	}

	if !save("original", img) || !includeIntermediate {
		return paths
	}

	edges, err := p.DetectEdges(img)
	if err != nil {
		paths["error"] = fmt.Sprintf("detecting edges: %v", err)
		return paths
	}
	if !save("edges", edges) {
		return paths
	}

	processed, _ := p.Enhance(img)
	save("processed", processed)
	return paths
}
