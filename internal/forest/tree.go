package forest

import (
	"math"
	"sort"
)

// Node is one element of a flattened regression tree. Leaves carry the
// prediction in Value and have Feature set to -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a CART regression tree stored as a flat node array, root at
// index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for one feature vector.
func (t *Tree) Predict(features []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return node.Value
		}
		if features[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// growTree builds one tree greedily: at each node the split minimizing the
// children's summed squared error wins, subject to the depth and
// min-samples constraints.
func growTree(x [][]float64, y []float64, sample []int, p Params) *Tree {
	t := &Tree{}
	t.grow(x, y, sample, 0, p)
	return t
}

// grow appends a subtree over the sampled rows and returns its root index.
func (t *Tree) grow(x [][]float64, y []float64, sample []int, depth int, p Params) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: -1, Value: meanOf(y, sample)})

	if depth >= p.MaxDepth || len(sample) < p.MinSamplesSplit {
		return idx
	}
	feature, threshold, ok := bestSplit(x, y, sample, p.MinSamplesLeaf)
	if !ok {
		return idx
	}

	var left, right []int
	for _, row := range sample {
		if x[row][feature] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	t.Nodes[idx].Feature = feature
	t.Nodes[idx].Threshold = threshold
	t.Nodes[idx].Left = t.grow(x, y, left, depth+1, p)
	t.Nodes[idx].Right = t.grow(x, y, right, depth+1, p)
	return idx
}

// bestSplit scans every feature and every distinct value boundary for the
// split with the lowest summed squared error, keeping both children at or
// above minLeaf rows.
func bestSplit(x [][]float64, y []float64, sample []int, minLeaf int) (feature int, threshold float64, ok bool) {
	bestScore := math.Inf(1)
	order := make([]int, len(sample))

	for f := range x[sample[0]] {
		copy(order, sample)
		sort.Slice(order, func(i, j int) bool { return x[order[i]][f] < x[order[j]][f] })

		// Prefix sums over the sorted order make each candidate split O(1).
		leftSum, leftSq := 0.0, 0.0
		totalSum, totalSq := 0.0, 0.0
		for _, row := range order {
			totalSum += y[row]
			totalSq += y[row] * y[row]
		}

		for i := 0; i < len(order)-1; i++ {
			v := y[order[i]]
			leftSum += v
			leftSq += v * v

			if x[order[i]][f] == x[order[i+1]][f] {
				continue
			}
			nLeft, nRight := i+1, len(order)-i-1
			if nLeft < minLeaf || nRight < minLeaf {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			score := (leftSq - leftSum*leftSum/float64(nLeft)) +
				(rightSq - rightSum*rightSum/float64(nRight))
			if score < bestScore {
				bestScore = score
				feature = f
				threshold = (x[order[i]][f] + x[order[i+1]][f]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func meanOf(y []float64, sample []int) float64 {
	if len(sample) == 0 {
		return 0
	}
	sum := 0.0
	for _, row := range sample {
		sum += y[row]
	}
	return sum / float64(len(sample))
}
