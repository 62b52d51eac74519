package ml

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
)

// RegressionTree is a CART tree split on squared-error reduction.
// Nodes are stored flat; children are indices into Nodes.
type RegressionTree struct {
	Nodes           []TreeNode `json:"nodes"`
	MaxDepth        int        `json:"max_depth"`
	MinSamplesSplit int        `json:"min_samples_split"`
	MinSamplesLeaf  int        `json:"min_samples_leaf"`
	MaxFeatures     int        `json:"max_features"`
	NumFeatures     int        `json:"num_features"`

	// importance holds the squared-error reduction per feature from the last fit.
	importance []float64
	rng        *rand.Rand
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

// NewRegressionTree returns a tree; maxDepth <= 0 grows until leaves are pure.
// maxFeatures <= 0 considers every feature at each split.
func NewRegressionTree(maxDepth, minSamplesSplit, minSamplesLeaf, maxFeatures int, rng *rand.Rand) *RegressionTree {
	if minSamplesSplit < 2 {
		minSamplesSplit = 2
	}
	if minSamplesLeaf < 1 {
		minSamplesLeaf = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	return &RegressionTree{
		MaxDepth:        maxDepth,
		MinSamplesSplit: minSamplesSplit,
		MinSamplesLeaf:  minSamplesLeaf,
		MaxFeatures:     maxFeatures,
		rng:             rng,
	}
}

func (dt *RegressionTree) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	return dt.fitIndices(ctx, features, targets, indices)
}

// fitIndices grows the tree on the rows named by indices; repeated indices
// act as sample weights, which is how bootstrap samples are passed in.
func (dt *RegressionTree) fitIndices(ctx context.Context, features [][]float64, targets []float64, indices []int) error {
	if len(features) == 0 || len(targets) == 0 || len(indices) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	if dt.rng == nil {
		dt.rng = rand.New(rand.NewPCG(0, 0))
	}
	dt.NumFeatures = len(features[0])
	dt.Nodes = nil
	dt.importance = make([]float64, dt.NumFeatures)
	return dt.buildNode(ctx, features, targets, indices, 0)
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != dt.NumFeatures {
		return 0, errors.New("feature vector length mismatch")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (dt *RegressionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (dt *RegressionTree) buildNode(ctx context.Context, features [][]float64, targets []float64, indices []int, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sum := 0.0
	for _, i := range indices {
		sum += targets[i]
	}
	pos := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      sum / float64(len(indices)),
		Samples:    len(indices),
		IsLeaf:     true,
	})

	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || len(indices) < dt.MinSamplesSplit || isConstant(targets, indices) {
		return nil
	}

	split, ok := dt.findBestSplit(features, targets, indices, sum)
	if !ok {
		return nil
	}
	left, right := partition(features, indices, split.feature, split.threshold)
	if len(left) == 0 || len(right) == 0 {
		return nil
	}
	dt.importance[split.feature] += split.gain

	leftIdx := len(dt.Nodes)
	if err := dt.buildNode(ctx, features, targets, left, depth+1); err != nil {
		return err
	}
	rightIdx := len(dt.Nodes)
	if err := dt.buildNode(ctx, features, targets, right, depth+1); err != nil {
		return err
	}

	node := &dt.Nodes[pos]
	node.FeatureIdx = split.feature
	node.Threshold = split.threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return nil
}

type treeSplit struct {
	feature   int
	threshold float64
	gain      float64
}

// findBestSplit scans sorted values of each candidate feature and maximises
// sumL^2/nL + sumR^2/nR, which is equivalent to minimising child squared error.
func (dt *RegressionTree) findBestSplit(features [][]float64, targets []float64, indices []int, total float64) (treeSplit, bool) {
	n := len(indices)
	parentScore := total * total / float64(n)
	best := treeSplit{feature: -1}
	bestScore := parentScore

	order := make([]int, n)
	for _, f := range dt.candidateFeatures() {
		copy(order, indices)
		sort.SliceStable(order, func(a, b int) bool {
			return features[order[a]][f] < features[order[b]][f]
		})

		leftSum := 0.0
		for i := 1; i < n; i++ {
			leftSum += targets[order[i-1]]
			if i < dt.MinSamplesLeaf || n-i < dt.MinSamplesLeaf {
				continue
			}
			lo, hi := features[order[i-1]][f], features[order[i]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(i) + rightSum*rightSum/float64(n-i)
			if score > bestScore+1e-12 {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				bestScore = score
				best = treeSplit{feature: f, threshold: threshold, gain: score - parentScore}
			}
		}
	}
	return best, best.feature >= 0
}

func (dt *RegressionTree) candidateFeatures() []int {
	if dt.MaxFeatures <= 0 || dt.MaxFeatures >= dt.NumFeatures {
		all := make([]int, dt.NumFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return dt.rng.Perm(dt.NumFeatures)[:dt.MaxFeatures]
}

func partition(features [][]float64, indices []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func isConstant(targets []float64, indices []int) bool {
	first := targets[indices[0]]
	for _, i := range indices[1:] {
		if math.Abs(targets[i]-first) > 1e-12 {
			return false
		}
	}
	return true
}
