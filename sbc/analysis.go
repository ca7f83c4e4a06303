package sbc

import "math"

// analyzer is the polyphase analysis filterbank of one channel.
type analyzer struct {
	m      int
	window []float64
	x      []float64 // 10*m history, newest sample at x[0]
	y      []float64
	matrix [][]float64
}

func newAnalyzer(subbands int) *analyzer {
	a := &analyzer{
		m: subbands,
		x: make([]float64, 10*subbands),
		y: make([]float64, 2*subbands),
	}
	if subbands == 4 {
		a.window = proto4[:]
	} else {
		a.window = proto8[:]
	}

	a.matrix = make([][]float64, subbands)
	m := float64(subbands)
	for k := 0; k < subbands; k++ {
		a.matrix[k] = make([]float64, 2*subbands)
		for i := 0; i < 2*subbands; i++ {
			a.matrix[k][i] = math.Cos((float64(k) + 0.5) * (float64(i) - m/2) * math.Pi / m)
		}
	}
	return a
}

// reset clears the filter history.
func (a *analyzer) reset() {
	for i := range a.x {
		a.x[i] = 0
	}
}

// process shifts in m new samples (oldest first) and writes m subband samples to out.
func (a *analyzer) process(in, out []float64) {
	m := a.m
	copy(a.x[m:], a.x[:len(a.x)-m])
	for i := 0; i < m; i++ {
		a.x[m-1-i] = in[i]
	}

	for i := range a.y {
		var sum float64
		for j := 0; j < 5; j++ {
			idx := i + j*2*m
			sum += a.window[idx] * a.x[idx]
		}
		a.y[i] = sum
	}

	for k := 0; k < m; k++ {
		var sum float64
		row := a.matrix[k]
		for i, y := range a.y {
			sum += row[i] * y
		}
		out[k] = sum
	}
}
