package radiance

// ViewerCommand returns the ximage invocation that displays picture with a
// 2.2 display gamma and automatic exposure.
func (t Toolchain) ViewerCommand(picture string) (string, []string) {
	return t.Radiance("ximage"), []string{"-g", "2.2", "-e", "auto", picture}
}
