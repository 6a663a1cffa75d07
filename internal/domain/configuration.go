package domain

// SavedConfiguration is a named set of calibration files and geometry that
// can be reapplied to later runs.
type SavedConfiguration struct {
	Name                  string  `json:"name"`
	ResponsePath          string  `json:"responsePath"`
	FisheyePath           string  `json:"fisheyePath"`
	VignettingPath        string  `json:"vignettingPath"`
	NDFilterPath          string  `json:"ndFilterPath"`
	CalibrationFactorPath string  `json:"calibrationFactorPath"`
	Diameter              int     `json:"diameter"`
	CropXLeft             int     `json:"cropXLeft"`
	CropYDown             int     `json:"cropYDown"`
	TargetXResolution     int     `json:"targetXResolution"`
	TargetYResolution     int     `json:"targetYResolution"`
	ViewAngleVertical     float64 `json:"viewAngleVertical"`
	ViewAngleHorizontal   float64 `json:"viewAngleHorizontal"`
}

// Apply copies the configuration's calibration and geometry onto a bundle.
func (c SavedConfiguration) Apply(b ParameterBundle) ParameterBundle {
	b.ResponsePath = c.ResponsePath
	b.FisheyePath = c.FisheyePath
	b.VignettingPath = c.VignettingPath
	b.NDFilterPath = c.NDFilterPath
	b.CalibrationFactorPath = c.CalibrationFactorPath
	b.Diameter = c.Diameter
	b.CropXLeft = c.CropXLeft
	b.CropYDown = c.CropYDown
	b.TargetXResolution = c.TargetXResolution
	b.TargetYResolution = c.TargetYResolution
	b.ViewAngleVertical = c.ViewAngleVertical
	b.ViewAngleHorizontal = c.ViewAngleHorizontal
	return b
}
