// Package cursor provides the scan position shared by every byte operation
// of a single payload evaluation.
package cursor

// Cursor tracks two marks (A and B) and a main position over a payload.
// It performs no bounds checking; callers validate positions against the
// payload before dereferencing. A Cursor must not be shared between
// evaluations.
type Cursor struct {
	a    int
	b    int
	main int
}

// New returns a zeroed cursor
func New() *Cursor {
	return &Cursor{}
}

func (c *Cursor) GetA() int     { return c.a }
func (c *Cursor) SetA(pos int)  { c.a = pos }
func (c *Cursor) GetB() int     { return c.b }
func (c *Cursor) SetB(pos int)  { c.b = pos }
func (c *Cursor) Get() int      { return c.main }
func (c *Cursor) Set(pos int)   { c.main = pos }
func (c *Cursor) Forward(n int) { c.main += n }

// Reset zeroes both marks and the main position
func (c *Cursor) Reset() {
	c.a, c.b, c.main = 0, 0, 0
}

// Resolve returns base+offset when relative is set, otherwise offset.
func (c *Cursor) Resolve(offset int, relative bool) int {
	if relative {
		return c.main + offset
	}
	return offset
}
