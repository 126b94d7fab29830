package service

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649

// IsolationForest 一维孤立森林，固定种子保证同一序列结果稳定
type IsolationForest struct {
	Trees      int
	SampleSize int
	Seed       int64
}

func NewIsolationForest() IsolationForest {
	return IsolationForest{Trees: 100, SampleSize: 256, Seed: 42}
}

type iTreeNode struct {
	split       float64
	left, right *iTreeNode
	size        int
}

// Scores 每个点的异常分数，(0,1]，越大越异常
func (f IsolationForest) Scores(values []float64) []float64 {
	n := len(values)
	scores := make([]float64, n)
	if n < 2 {
		return scores
	}

	sample := f.SampleSize
	if sample <= 0 || sample > n {
		sample = n
	}
	trees := f.Trees
	if trees <= 0 {
		trees = 100
	}
	limit := int(math.Ceil(math.Log2(float64(sample))))
	rng := rand.New(rand.NewSource(f.Seed))

	forest := make([]*iTreeNode, trees)
	for t := range forest {
		idx := rng.Perm(n)[:sample]
		sub := make([]float64, sample)
		for i, j := range idx {
			sub[i] = values[j]
		}
		forest[t] = buildITree(sub, 0, limit, rng)
	}

	norm := averagePathLength(sample)
	for i, v := range values {
		var total float64
		for _, tree := range forest {
			total += pathLength(tree, v, 0)
		}
		mean := total / float64(trees)
		if norm == 0 {
			scores[i] = 0.5
			continue
		}
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

// Predict 污染率对应的前 k 个最高分标记为异常；与第 k+1 名同分的不标记，常量序列不产生异常
func (f IsolationForest) Predict(values []float64, contamination float64) []bool {
	n := len(values)
	flags := make([]bool, n)
	if n < 2 || contamination <= 0 {
		return flags
	}
	k := int(math.Ceil(contamination * float64(n)))
	if k > n {
		k = n
	}

	scores := f.Scores(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	cutoff := math.Inf(-1)
	if k < n {
		cutoff = scores[order[k]]
	}
	for _, i := range order[:k] {
		if scores[i] > cutoff+1e-12 {
			flags[i] = true
		}
	}
	return flags
}

func buildITree(values []float64, depth, limit int, rng *rand.Rand) *iTreeNode {
	if depth >= limit || len(values) <= 1 {
		return &iTreeNode{size: len(values)}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &iTreeNode{size: len(values)}
	}
	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return &iTreeNode{
		split: split,
		left:  buildITree(left, depth+1, limit, rng),
		right: buildITree(right, depth+1, limit, rng),
	}
}

func pathLength(node *iTreeNode, v float64, depth int) float64 {
	if node.left == nil && node.right == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if v < node.split {
		return pathLength(node.left, v, depth+1)
	}
	return pathLength(node.right, v, depth+1)
}

// averagePathLength 二叉搜索树中不成功查找的平均路径长度 c(n)
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerGamma
	return 2*h - 2*float64(n-1)/float64(n)
}
