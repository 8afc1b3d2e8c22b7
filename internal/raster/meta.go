package raster

// Meta is what Probe learns about an encoded image.
type Meta struct {
	Width  int
	Height int
	Format string
}
