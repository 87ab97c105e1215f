// Package stats has running statistics and plotting helpers for training histories.
package stats

import (
	"fmt"
	"html/template"
	"math"
)

// Calc exponentional moving average
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Smooth returns the exponential moving average of the series with span n
func Smooth(xs []float64, n float64) []float64 {
	res := make([]float64, len(xs))
	var e EMA
	for i, x := range xs {
		e = EMA(e.Add(x, n))
		res[i] = float64(e)
	}
	return res
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
	} else {
		s.Mean = s.oldM + (x-s.oldM)/s.Count
		s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
		s.oldM, s.oldV = s.Mean, s.Var
		if s.Count > 1 {
			s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
		}
	}
}

// Mean of a series of values, zero if it is empty
func Mean(xs []float64) float64 {
	var s Average
	for _, x := range xs {
		s.Add(x)
	}
	return s.Mean
}

func (s *Average) HTML() template.HTML {
	var text string
	if s.Mean > 10 {
		if s.StdDev < 0.1 {
			text = fmt.Sprintf("%.1f", s.Mean)
		} else {
			text = fmt.Sprintf("%.1f&PlusMinus;%.1f", s.Mean, s.StdDev)
		}
	} else {
		if s.StdDev < 0.01 {
			text = fmt.Sprintf("%.2f", s.Mean)
		} else {
			text = fmt.Sprintf("%.2f&PlusMinus;%.2f", s.Mean, s.StdDev)
		}
	}
	return template.HTML(text)
}
