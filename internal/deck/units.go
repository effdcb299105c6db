package deck

// EMU (English Metric Units) helpers. 1 inch = 914400 EMU, 1 point = 12700 EMU.

const (
	EMUPerInch  = 914400
	EMUPerPoint = 12700

	// DefaultWidth and DefaultHeight are a 13.333in x 7.5in (16:9) slide.
	DefaultWidth  = 12192000
	DefaultHeight = 6858000
)

// Inch converts inches to EMU.
func Inch(n float64) int64 {
	return int64(n * EMUPerInch)
}

// Pt converts points to EMU.
func Pt(n float64) int64 {
	return int64(n * EMUPerPoint)
}
