package monitor

// ring keeps the last cap samples of one observable.
type ring struct {
	buf  [][]float64
	next int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([][]float64, capacity)}
}

func (r *ring) push(v []float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *ring) latest() ([]float64, bool) {
	if r.n == 0 {
		return nil, false
	}
	i := r.next - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i], true
}

// window returns the retained samples, oldest first.
func (r *ring) window() [][]float64 {
	out := make([][]float64, 0, r.n)
	start := r.next - r.n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
