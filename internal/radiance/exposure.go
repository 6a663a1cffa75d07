package radiance

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"
)

const (
	darkThreshold   = 27
	brightThreshold = 228
)

// Exposure holds the EXIF exposure settings of one LDR image.
type Exposure struct {
	Path         string  `json:"path"`
	ExposureTime string  `json:"exposureTime"` // as recorded, e.g. "1/125"
	Seconds      float64 `json:"seconds"`
	FNumber      float64 `json:"fNumber"`
	ISO          int64   `json:"iso"`
}

// String formats the exposure for the output log.
func (e Exposure) String() string {
	return fmt.Sprintf("%s: %ss f/%s ISO %d",
		filepath.Base(e.Path), e.ExposureTime, formatAngle(e.FNumber), e.ISO)
}

// ReadExposure reads exposure time, f-number and ISO from the EXIF block of path.
func ReadExposure(path string) (Exposure, error) {
	exposure := Exposure{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return exposure, err
	}
	defer f.Close()

	ex, err := exif.Decode(f)
	if err != nil {
		return exposure, fmt.Errorf("exif parsing %s: %w", path, err)
	}

	if tag, err := ex.Get(exif.ExposureTime); err != nil {
		return exposure, fmt.Errorf("exif ExposureTime %s: %w", path, err)
	} else if num, denom, err := tag.Rat2(0); err != nil {
		return exposure, fmt.Errorf("exif ExposureTime %s: %w", path, err)
	} else if denom != 0 {
		exposure.ExposureTime = fmt.Sprintf("%d/%d", num, denom)
		exposure.Seconds = float64(num) / float64(denom)
	}

	if tag, err := ex.Get(exif.FNumber); err == nil {
		if num, denom, err := tag.Rat2(0); err == nil && denom != 0 {
			exposure.FNumber = float64(num) / float64(denom)
		}
	}

	if tag, err := ex.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int64(0); err == nil {
			exposure.ISO = iso
		}
	}

	return exposure, nil
}

// ReadExposures reads the exposure of every path. errs[i] is set when paths[i]
// carries no usable EXIF data; the matching Exposure then only has its Path.
func ReadExposures(paths []string) (exposures []Exposure, errs []error) {
	exposures = make([]Exposure, len(paths))
	errs = make([]error, len(paths))
	for i, path := range paths {
		exposures[i], errs[i] = ReadExposure(path)
	}
	return exposures, errs
}

// Circle locates the fisheye view inside the uncropped image.
type Circle struct {
	Diameter int
	XLeft    int
	YDown    int
}

type exposureStats struct {
	index      int
	dark       int
	bright     int
	brightness float64
}

// FilterExposures drops exposures that add nothing to the merge. Images are
// ordered from brightest to darkest; the range starts at the darkest image
// without dark pixels inside the circle and ends at the first later image
// without bright pixels. Fewer than two survivors returns the full set.
func FilterExposures(ctx context.Context, paths []string, circle Circle) ([]string, error) {
	stats := make([]exposureStats, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := scanExposure(path, circle)
			if err != nil {
				return err
			}
			s.index = i
			stats[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	selected := selectExposures(stats)
	if len(selected) < 2 {
		return append([]string(nil), paths...), nil
	}

	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, paths[idx])
	}
	return out, nil
}

// selectExposures returns the indexes of the images to keep, brightest first.
func selectExposures(stats []exposureStats) []int {
	sorted := append([]exposureStats(nil), stats...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].brightness > sorted[j].brightness
	})

	start := 0
	for i, s := range sorted {
		if s.dark == 0 {
			start = i
		}
	}

	end := len(sorted) - 1
	for i := start; i < len(sorted); i++ {
		if sorted[i].bright == 0 {
			end = i
			break
		}
	}

	indexes := make([]int, 0, end-start+1)
	for _, s := range sorted[start : end+1] {
		indexes = append(indexes, s.index)
	}
	return indexes
}

func scanExposure(path string, circle Circle) (exposureStats, error) {
	var stats exposureStats

	f, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return stats, fmt.Errorf("decode %s: %w", path, err)
	}

	radius := float64(circle.Diameter) / 2
	cx := float64(circle.XLeft) + radius
	cy := float64(circle.YDown) + radius
	r2 := radius * radius

	bounds := img.Bounds()
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		dy := float64(y-bounds.Min.Y) - cy
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := float64(x-bounds.Min.X) - cx
			if dx*dx+dy*dy > r2 {
				continue
			}
			r, g, b, _ := img.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, b>>8
			sum += 0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8)
			switch {
			case r8 < darkThreshold && g8 < darkThreshold && b8 < darkThreshold:
				stats.dark++
			case r8 > brightThreshold && g8 > brightThreshold && b8 > brightThreshold:
				stats.bright++
			}
		}
	}

	if pixels := bounds.Dx() * bounds.Dy(); pixels > 0 {
		stats.brightness = sum / float64(pixels)
	}
	return stats, nil
}

// filterable reports whether the LDR format can be decoded for FilterExposures.
func filterable(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}
