// Package treemap converts water-balance reports into the tree structure
// consumed by the treemap chart widget.
//
// Conversion is depth-first and pre-order. Every node gets the next color
// from a fixed palette, so the same input converted by a freshly reset
// [Converter] always produces the same colors.
package treemap

// Palette is the ordered set of node colors. The order is part of the
// chart's visual contract.
var Palette = [...]string{
	"#5470c6",
	"#91cc75",
	"#fac858",
	"#ee6666",
	"#73c0de",
	"#3ba272",
	"#fc8452",
	"#9a60b4",
	"#ea7ccc",
	"#58d9f9",
	"#f7b23b",
	"#ff7875",
	"#95de64",
	"#b37feb",
	"#ffd666",
	"#ff9c6e",
	"#69c0ff",
	"#bae637",
	"#ff85c0",
	"#5cdbd3",
	"#ffa940",
	"#9254de",
	"#40a9ff",
	"#73d13d",
	"#ff4d4f",
	"#722ed1",
	"#13c2c2",
	"#fa8c16",
	"#eb2f96",
	"#52c41a",
}

// Allocator hands out palette colors in order, wrapping around at the end.
// The zero value starts at the first color. An Allocator is not safe for
// concurrent use.
type Allocator struct {
	index int
}

// Next returns the next color and advances the allocator.
func (a *Allocator) Next() string {
	color := Palette[a.index%len(Palette)]
	a.index++
	return color
}

// Reset rewinds the allocator to the first color. Colors already assigned
// to nodes are not affected.
func (a *Allocator) Reset() {
	a.index = 0
}

// Index reports how many colors have been handed out since the last reset.
func (a *Allocator) Index() int {
	return a.index
}
