package cosched

// p2Quantile implements the P-Square algorithm for streaming quantile
// estimation: O(1) per observation, O(1) retrieval, five markers of state.
//
// Reference:
// Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic Calculation
// of Quantiles and Histograms Without Storing Observations". Communications
// of the ACM, 28(10), pp. 1076-1085.
//
// Thread Safety: NOT thread-safe. Caller must ensure synchronization.
type p2Quantile struct {
	p     float64    // target quantile in [0, 1]
	q     [5]float64 // marker heights
	np    [5]float64 // desired marker positions
	dn    [5]float64 // desired position increments
	n     [5]int     // actual marker positions
	count int
	seed  [5]float64 // first five observations, pre-initialization
}

func newP2Quantile(p float64) *p2Quantile {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return &p2Quantile{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Update folds one observation into the estimate.
func (ps *p2Quantile) Update(x float64) {
	ps.count++
	if ps.count <= 5 {
		ps.seed[ps.count-1] = x
		if ps.count == 5 {
			ps.initialize()
		}
		return
	}

	// Locate the cell k with q[k] <= x < q[k+1], extending the extremes.
	var k int
	switch {
	case x < ps.q[0]:
		ps.q[0] = x
		k = 0
	case x >= ps.q[4]:
		ps.q[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if ps.q[k] <= x && x < ps.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		ps.n[i]++
	}
	for i := 0; i < 5; i++ {
		ps.np[i] += ps.dn[i]
	}

	// Nudge interior markers toward their desired positions.
	for i := 1; i < 4; i++ {
		d := ps.np[i] - float64(ps.n[i])
		if (d >= 1 && ps.n[i+1]-ps.n[i] > 1) || (d <= -1 && ps.n[i-1]-ps.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			if adjusted := ps.parabolic(i, sign); ps.q[i-1] < adjusted && adjusted < ps.q[i+1] {
				ps.q[i] = adjusted
			} else {
				ps.q[i] = ps.linear(i, sign)
			}
			ps.n[i] += sign
		}
	}
}

func (ps *p2Quantile) initialize() {
	insertionSort(ps.seed[:])
	for i := 0; i < 5; i++ {
		ps.q[i] = ps.seed[i]
		ps.n[i] = i
	}
	ps.np = [5]float64{0, 2 * ps.p, 4 * ps.p, 2 + 2*ps.p, 4}
}

func (ps *p2Quantile) parabolic(i, d int) float64 {
	df := float64(d)
	ni := float64(ps.n[i])
	prev := float64(ps.n[i-1])
	next := float64(ps.n[i+1])
	a := df / (next - prev)
	b := (ni - prev + df) * (ps.q[i+1] - ps.q[i]) / (next - ni)
	c := (next - ni - df) * (ps.q[i] - ps.q[i-1]) / (ni - prev)
	return ps.q[i] + a*(b+c)
}

func (ps *p2Quantile) linear(i, d int) float64 {
	if d == 1 {
		return ps.q[i] + (ps.q[i+1]-ps.q[i])/float64(ps.n[i+1]-ps.n[i])
	}
	return ps.q[i] - (ps.q[i]-ps.q[i-1])/float64(ps.n[i]-ps.n[i-1])
}

// Quantile returns the current estimate. With fewer than five observations
// it falls back to the sorted sample.
func (ps *p2Quantile) Quantile() float64 {
	if ps.count == 0 {
		return 0
	}
	if ps.count < 5 {
		sorted := make([]float64, ps.count)
		copy(sorted, ps.seed[:ps.count])
		insertionSort(sorted)
		idx := int(float64(ps.count-1) * ps.p)
		return sorted[idx]
	}
	return ps.q[2]
}

func insertionSort(s []float64) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
