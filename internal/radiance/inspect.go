package radiance

import (
	"fmt"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
)

// ArtifactInfo describes a decoded Radiance picture.
type ArtifactInfo struct {
	Path    string `json:"path"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	View    View   `json:"view"`
	HasView bool   `json:"hasView"`
}

// InspectArtifact decodes the picture configuration and the VIEW header of path.
func InspectArtifact(path string) (ArtifactInfo, error) {
	info := ArtifactInfo{Path: path}

	f, err := os.Open(path)
	if err != nil {
		return info, err
	}
	defer f.Close()

	cfg, err := rgbe.DecodeConfig(f)
	if err != nil {
		return info, fmt.Errorf("decode %s: %w", path, err)
	}
	info.Width = cfg.Width
	info.Height = cfg.Height

	header, err := ReadHeader(path)
	if err != nil {
		return info, err
	}
	info.View, info.HasView = header.View()
	return info, nil
}

// checkArtifact lists the ways info differs from the expected output geometry.
// pfilt keeps the aspect ratio, so the picture only has to fit the target box
// and touch it on one side.
func checkArtifact(info ArtifactInfo, targetX, targetY int, vertical, horizontal float64) []string {
	var problems []string

	fits := info.Width <= targetX && info.Height <= targetY
	touches := info.Width == targetX || info.Height == targetY
	if !fits || !touches {
		problems = append(problems, fmt.Sprintf(
			"resolution %dx%d does not match target %dx%d",
			info.Width, info.Height, targetX, targetY,
		))
	}

	if !info.HasView {
		problems = append(problems, "VIEW header is missing")
		return problems
	}
	if info.View.Vertical != vertical || info.View.Horizontal != horizontal {
		problems = append(problems, fmt.Sprintf(
			"view angles %s/%s do not match %s/%s",
			formatAngle(info.View.Vertical), formatAngle(info.View.Horizontal),
			formatAngle(vertical), formatAngle(horizontal),
		))
	}
	return problems
}
