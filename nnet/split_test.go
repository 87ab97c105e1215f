package nnet

import (
	"math/rand"
	"reflect"
	"testing"
)

func splitData() (ids []int, labels []bool) {
	for i := 0; i < 100; i++ {
		ids = append(ids, i)
		labels = append(labels, i%10 < 3)
	}
	return
}

func count(ids []int, labels []bool, label bool) int {
	n := 0
	for _, id := range ids {
		if labels[id] == label {
			n++
		}
	}
	return n
}

func TestStratifiedSplit(t *testing.T) {
	ids, labels := splitData()
	splits, err := StratifiedSplit(ids, labels, 5, 0.1, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	if len(splits) != 5 {
		t.Fatal("expecting 5 splits, got", len(splits))
	}
	inTest := make(map[int]int)
	for k, s := range splits {
		t.Logf("fold %d: train=%d val=%d test=%d", k, len(s.Train), len(s.Val), len(s.Test))
		seen := make(map[int]bool)
		for _, set := range [][]int{s.Train, s.Val, s.Test} {
			for _, id := range set {
				if seen[id] {
					t.Fatalf("fold %d: id %d appears twice", k, id)
				}
				seen[id] = true
			}
		}
		if len(seen) != len(ids) {
			t.Errorf("fold %d: have %d ids - expecting %d", k, len(seen), len(ids))
		}
		if n := count(s.Test, labels, true); n != 6 {
			t.Errorf("fold %d: test set has %d positive labels - expecting 6", k, n)
		}
		if n := count(s.Test, labels, false); n != 14 {
			t.Errorf("fold %d: test set has %d negative labels - expecting 14", k, n)
		}
		if n := count(s.Val, labels, true); n != 2 {
			t.Errorf("fold %d: val set has %d positive labels - expecting 2", k, n)
		}
		if n := count(s.Val, labels, false); n != 6 {
			t.Errorf("fold %d: val set has %d negative labels - expecting 6", k, n)
		}
		for _, id := range s.Test {
			inTest[id]++
		}
	}
	if len(inTest) != len(ids) {
		t.Errorf("test sets cover %d ids - expecting %d", len(inTest), len(ids))
	}
	for id, n := range inTest {
		if n != 1 {
			t.Errorf("id %d is in %d test sets", id, n)
		}
	}
}

func TestStratifiedSplitRepeatable(t *testing.T) {
	ids, labels := splitData()
	s1, err := StratifiedSplit(ids, labels, 5, 0.1, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := StratifiedSplit(ids, labels, 5, 0.1, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s1, s2) {
		t.Error("splits differ for the same seed")
	}
	if !reflect.DeepEqual(ids, seq(100)) {
		t.Error("input ids were modified")
	}
}

func TestStratifiedSplitErrors(t *testing.T) {
	ids, labels := splitData()
	rng := rand.New(rand.NewSource(1))
	if _, err := StratifiedSplit(ids, labels[:10], 5, 0.1, rng); err == nil {
		t.Error("expecting error for label count mismatch")
	}
	if _, err := StratifiedSplit(ids, labels, 1, 0.1, rng); err == nil {
		t.Error("expecting error for single split")
	}
	if _, err := StratifiedSplit(ids, labels, 5, 1.5, rng); err == nil {
		t.Error("expecting error for invalid validation size")
	}
	if _, err := StratifiedSplit(ids[:8], labels[:8], 5, 0.1, rng); err == nil {
		t.Error("expecting error for too few samples in group")
	} else {
		t.Log(err)
	}
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
