package dice

// FixedSource replays a scripted sequence of d20 results, cycling when it
// runs out. Tests use it to force natural 1s and 20s.
type FixedSource struct {
	rolls []int
	next  int
}

// Fixed returns a source that yields the given d20 results in order.
func Fixed(rolls ...int) *FixedSource {
	if len(rolls) == 0 {
		rolls = []int{10}
	}
	return &FixedSource{rolls: rolls}
}

// Intn returns the next scripted roll mapped into [0, n).
func (f *FixedSource) Intn(n int) int {
	roll := f.rolls[f.next%len(f.rolls)]
	f.next++
	v := roll - 1
	if v < 0 {
		v = 0
	}
	if v >= n {
		v = n - 1
	}
	return v
}

// Draws reports how many values have been taken.
func (f *FixedSource) Draws() int {
	return f.next
}
