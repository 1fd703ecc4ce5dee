package worker

// Cursor is a worker's position in the tenant list. The zero value starts a
// fresh rotation: the first tick selects index 1 (or 0 for a single tenant).
type Cursor struct {
	pos int
}

// Advance selects the next database of a list of length n and reports
// whether this tick completes a rotation. An empty list resets the cursor
// and completes with index -1. A cursor left beyond a shrunken list wraps
// back into range on the next call.
func (c *Cursor) Advance(n int) (index int, complete bool) {
	if n <= 0 {
		c.pos = 0
		return -1, true
	}
	c.pos = (c.pos + 1) % n
	return c.pos, c.pos == 0
}

// Pos returns the index selected by the last Advance.
func (c *Cursor) Pos() int { return c.pos }
