package classify

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FeatureVersion identifies the feature order below. Model artifacts declare
// the version they were trained against and are rejected on mismatch.
const FeatureVersion = 1

// FeatureCount is the length of a feature vector.
const FeatureCount = 8

// Features is the ordered numeric encoding of a URL fed to the model.
type Features [FeatureCount]float64

// FeatureNames labels each position of Features, in order.
var FeatureNames = [FeatureCount]string{
	"length",
	"dots",
	"hyphens",
	"at_signs",
	"question_marks",
	"has_https",
	"digits",
	"suspicious_tld",
}

// digitSymbols holds the code points with Unicode Numeric_Type=Digit, such as
// superscripts and circled digits. Together with Nd they make up the digit
// set of the training pipeline's str.isdigit.
var digitSymbols = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00b2, Hi: 0x00b3, Stride: 1},
		{Lo: 0x00b9, Hi: 0x00b9, Stride: 1},
		{Lo: 0x1369, Hi: 0x1371, Stride: 1},
		{Lo: 0x19da, Hi: 0x19da, Stride: 1},
		{Lo: 0x2070, Hi: 0x2070, Stride: 1},
		{Lo: 0x2074, Hi: 0x2079, Stride: 1},
		{Lo: 0x2080, Hi: 0x2089, Stride: 1},
		{Lo: 0x2460, Hi: 0x2468, Stride: 1},
		{Lo: 0x2474, Hi: 0x247c, Stride: 1},
		{Lo: 0x2488, Hi: 0x2490, Stride: 1},
		{Lo: 0x24ea, Hi: 0x24ea, Stride: 1},
		{Lo: 0x24f5, Hi: 0x24fd, Stride: 1},
		{Lo: 0x24ff, Hi: 0x24ff, Stride: 1},
		{Lo: 0x2776, Hi: 0x277e, Stride: 1},
		{Lo: 0x2780, Hi: 0x2788, Stride: 1},
		{Lo: 0x278a, Hi: 0x2792, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x10a40, Hi: 0x10a43, Stride: 1},
		{Lo: 0x10e60, Hi: 0x10e68, Stride: 1},
		{Lo: 0x11052, Hi: 0x1105a, Stride: 1},
		{Lo: 0x1f100, Hi: 0x1f10a, Stride: 1},
	},
	LatinOffset: 2,
}

// ExtractFeatures computes the version 1 feature vector. The order must match
// the order used to train the model; any string, including the empty one, is
// valid input.
func ExtractFeatures(rawURL string) Features {
	var digits int
	for _, r := range rawURL {
		if unicode.IsDigit(r) || unicode.Is(digitSymbols, r) {
			digits++
		}
	}
	return Features{
		float64(utf8.RuneCountInString(rawURL)),
		float64(strings.Count(rawURL, ".")),
		float64(strings.Count(rawURL, "-")),
		float64(strings.Count(rawURL, "@")),
		float64(strings.Count(rawURL, "?")),
		flag(strings.Contains(rawURL, "https")),
		float64(digits),
		flag(strings.Contains(rawURL, ".xyz") || strings.Contains(rawURL, ".top")),
	}
}

// Slice returns the vector as a slice, for JSON encoding.
func (f Features) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, f[:])
	return out
}

// Key is a compact, stable string form used for caching and coalescing.
func (f Features) Key() string {
	var b strings.Builder
	for i, v := range f {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return b.String()
}

func flag(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
