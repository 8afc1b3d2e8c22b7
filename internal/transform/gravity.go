package transform

import "strings"

// Gravity names one of nine anchors on the base image.
type Gravity string

const (
	NorthWest Gravity = "NorthWest"
	North     Gravity = "North"
	NorthEast Gravity = "NorthEast"
	West      Gravity = "West"
	Center    Gravity = "Center"
	East      Gravity = "East"
	SouthWest Gravity = "SouthWest"
	South     Gravity = "South"
	SouthEast Gravity = "SouthEast"
)

// Gravities lists the closed set of anchors every backend table must cover.
var Gravities = []Gravity{
	NorthWest, North, NorthEast,
	West, Center, East,
	SouthWest, South, SouthEast,
}

// DefaultLocalPosition is used by the local backend when a mark has no gravity.
const DefaultLocalPosition = "bottom-right"

// TextAlign is the horizontal and vertical anchor used when drawing text.
type TextAlign struct {
	Align  string
	VAlign string
}

var ossPositions = map[Gravity]string{
	NorthWest: "nw",
	North:     "north",
	NorthEast: "ne",
	West:      "west",
	Center:    "center",
	East:      "east",
	SouthWest: "sw",
	South:     "south",
	SouthEast: "se",
}

var localPositions = map[Gravity]string{
	NorthWest: "top-left",
	North:     "top",
	NorthEast: "top-right",
	West:      "left",
	Center:    "center",
	East:      "right",
	SouthWest: "bottom-left",
	South:     "bottom",
	SouthEast: "bottom-right",
}

var localTextAligns = map[Gravity]TextAlign{
	NorthWest: {Align: "left", VAlign: "top"},
	North:     {Align: "center", VAlign: "top"},
	NorthEast: {Align: "right", VAlign: "top"},
	West:      {Align: "left", VAlign: "middle"},
	Center:    {Align: "center", VAlign: "middle"},
	East:      {Align: "right", VAlign: "middle"},
	SouthWest: {Align: "left", VAlign: "bottom"},
	South:     {Align: "center", VAlign: "bottom"},
	SouthEast: {Align: "right", VAlign: "bottom"},
}

// ParseGravity accepts the canonical names case-insensitively.
func ParseGravity(raw string) (Gravity, error) {
	trimmed := strings.TrimSpace(raw)
	for _, g := range Gravities {
		if strings.EqualFold(string(g), trimmed) {
			return g, nil
		}
	}
	return "", invalidParameter("unknown gravity "+quote(raw), raw)
}

// OSSPosition maps g to the OSS g_ token.
func OSSPosition(g Gravity) (string, error) {
	return lookup(ossPositions, g)
}

// LocalPosition maps g to a raster anchor, defaulting to bottom-right.
func LocalPosition(g Gravity) (string, error) {
	if g == "" {
		return DefaultLocalPosition, nil
	}
	return lookup(localPositions, g)
}

// LocalTextAlign maps g to the alignment text is drawn with.
func LocalTextAlign(g Gravity) (TextAlign, error) {
	return lookup(localTextAligns, g)
}

// QiniuGravity returns the token Qiniu expects, which is the canonical name.
func QiniuGravity(g Gravity) (string, error) {
	if _, err := lookup(ossPositions, g); err != nil {
		return "", err
	}
	return string(g), nil
}

func lookup[V any](table map[Gravity]V, g Gravity) (V, error) {
	v, ok := table[g]
	if !ok {
		var zero V
		return zero, invalidParameter("no position for gravity "+quote(string(g)), g)
	}
	return v, nil
}

func quote(s string) string {
	return "\"" + s + "\""
}
