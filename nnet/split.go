package nnet

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Split holds the sample ids for one fold of a train / validation / test partition.
type Split struct {
	Train, Val, Test []int
}

// Save the ids for each set to a JSON file
func (s Split) Save(path string) error {
	return writeJSON(path, s)
}

// StratifiedSplit partitions ids into nSplits folds. In each fold one 1/nSplits share of every label
// group is held out for test and valSize of the remainder of the group is used for validation.
// The proportion of each label is preserved in all three sets and the test sets of the folds are disjoint.
func StratifiedSplit[L comparable](ids []int, labels []L, nSplits int, valSize float64, rng *rand.Rand) ([]Split, error) {
	if len(ids) != len(labels) {
		return nil, errors.Errorf("split: have %d ids but %d labels", len(ids), len(labels))
	}
	if nSplits < 2 {
		return nil, errors.Errorf("split: number of splits must be at least 2, got %d", nSplits)
	}
	if valSize < 0 || valSize >= 1 {
		return nil, errors.Errorf("split: validation size %g must be in range [0, 1)", valSize)
	}
	var order []L
	groups := make(map[L][]int)
	for i, label := range labels {
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], ids[i])
	}
	for _, label := range order {
		if n := len(groups[label]); n < nSplits {
			return nil, errors.Errorf("split: label %v has %d samples - need at least %d", label, n, nSplits)
		}
		g := groups[label]
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
	}
	splits := make([]Split, nSplits)
	for k := range splits {
		s := &splits[k]
		for _, label := range order {
			g := groups[label]
			start, end := k*len(g)/nSplits, (k+1)*len(g)/nSplits
			s.Test = append(s.Test, g[start:end]...)
			rest := make([]int, 0, len(g)-(end-start))
			rest = append(append(rest, g[:start]...), g[end:]...)
			nval := int(math.Round(valSize * float64(len(rest))))
			s.Val = append(s.Val, rest[:nval]...)
			s.Train = append(s.Train, rest[nval:]...)
		}
		sort.Ints(s.Train)
		sort.Ints(s.Val)
		sort.Ints(s.Test)
	}
	return splits, nil
}
