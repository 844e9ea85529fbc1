package plato

import "sync"

// sgCoefficients returns the Savitzky–Golay convolution coefficients for a
// quadratic (equivalently cubic — they coincide for 0th-derivative
// smoothing) fit over a symmetric window of half-width m (window length
// 2m+1), using the closed-form Gram-polynomial formula (Savitzky & Golay
// 1964, closed form per Gorry 1990):
//
//	c_i = 3*(3m^2 + 3m - 1 - 5i^2) / [(2m+3)(2m+1)(2m-1)],  i = -m..m
//
// No library in the retrieved pack implements Savitzky-Golay smoothing, so
// this is computed directly from the published formula rather than
// hand-rolling a least-squares solve; it is pure, deterministic, and cached
// per window size since RACER only ever uses a handful of distinct window
// sizes (5..21) for the lifetime of a process.
func sgCoefficients(m int) []float64 {
	coeffs := make([]float64, 2*m+1)
	denom := float64((2*m + 3) * (2*m + 1) * (2*m - 1))
	base := float64(3*m*m + 3*m - 1)
	for idx := -m; idx <= m; idx++ {
		i := float64(idx)
		coeffs[idx+m] = 3 * (base - 5*i*i) / denom
	}
	return coeffs
}

var (
	sgCacheMu sync.Mutex
	sgCache   = make(map[int][]float64)
)

// sgCoefficientsCached memoizes sgCoefficients by half-width, since a
// Controller recomputes them at most once per configured window size.
func sgCoefficientsCached(m int) []float64 {
	sgCacheMu.Lock()
	defer sgCacheMu.Unlock()
	if c, ok := sgCache[m]; ok {
		return c
	}
	c := sgCoefficients(m)
	sgCache[m] = c
	return c
}

// smooth applies the symmetric Savitzky-Golay kernel to window (samples
// ordered oldest-first, len(window) == 2m+1) and returns the smoothed value
// at the window's center sample, m samples behind the newest one. It is
// only called once the window is full; the warm-up fallback (§4.5 edge
// case) is handled by the caller.
func smooth(window []float64) float64 {
	n := len(window)
	m := (n - 1) / 2
	coeffs := sgCoefficientsCached(m)
	var sum float64
	for i, v := range window {
		sum += coeffs[i] * v
	}
	return sum
}
