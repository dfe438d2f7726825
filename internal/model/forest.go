package model

import (
	"context"
	"fmt"

	"github.com/qrshield/qrshield-go/internal/classify"
)

const leaf = -1

// ForestParams is an ensemble of decision trees exported from a
// scikit-learn style random forest.
type ForestParams struct {
	Trees []TreeParams `yaml:"trees"`
}

// TreeParams is a flattened tree. Node 0 is the root.
type TreeParams struct {
	Nodes []NodeParams `yaml:"nodes"`
}

// NodeParams is a split (left/right >= 0) or a leaf (left == right == -1)
// holding per-class weights [safe, malicious].
type NodeParams struct {
	Feature   int       `yaml:"feature"`
	Threshold float64   `yaml:"threshold"`
	Left      int       `yaml:"left"`
	Right     int       `yaml:"right"`
	Value     []float64 `yaml:"value"`
}

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	prob      float64
}

// Forest averages the leaf malicious-class proportion over all trees.
type Forest struct {
	name  string
	trees [][]node
}

func newForest(name string, p ForestParams) (*Forest, error) {
	if len(p.Trees) == 0 {
		return nil, fmt.Errorf("%w: forest has no trees", ErrInvalidArtifact)
	}
	f := &Forest{name: name, trees: make([][]node, 0, len(p.Trees))}
	for ti, t := range p.Trees {
		nodes, err := buildTree(t)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", ti, err)
		}
		f.trees = append(f.trees, nodes)
	}
	return f, nil
}

func buildTree(t TreeParams) ([]node, error) {
	n := len(t.Nodes)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty tree", ErrInvalidArtifact)
	}
	nodes := make([]node, n)
	for i, np := range t.Nodes {
		if np.Left == leaf && np.Right == leaf {
			if len(np.Value) != 2 || np.Value[0] < 0 || np.Value[1] < 0 || np.Value[0]+np.Value[1] <= 0 {
				return nil, fmt.Errorf("%w: node %d: leaf value must be two non-negative weights", ErrInvalidArtifact, i)
			}
			nodes[i] = node{left: leaf, right: leaf, prob: np.Value[1] / (np.Value[0] + np.Value[1])}
			continue
		}
		// Children must come after their parent, which also rules out cycles.
		if np.Left <= i || np.Left >= n || np.Right <= i || np.Right >= n {
			return nil, fmt.Errorf("%w: node %d: child index out of range", ErrInvalidArtifact, i)
		}
		if np.Feature < 0 || np.Feature >= classify.FeatureCount {
			return nil, fmt.Errorf("%w: node %d: feature %d out of range", ErrInvalidArtifact, i, np.Feature)
		}
		nodes[i] = node{feature: np.Feature, threshold: np.Threshold, left: np.Left, right: np.Right}
	}
	return nodes, nil
}

// Name implements classify.Predictor.
func (f *Forest) Name() string { return f.name }

// PredictProba implements classify.Predictor.
func (f *Forest) PredictProba(_ context.Context, x classify.Features) (float64, error) {
	var sum float64
	for _, nodes := range f.trees {
		sum += walk(nodes, x)
	}
	return sum / float64(len(f.trees)), nil
}

func walk(nodes []node, x classify.Features) float64 {
	i := 0
	for nodes[i].left != leaf {
		if x[nodes[i].feature] <= nodes[i].threshold {
			i = nodes[i].left
		} else {
			i = nodes[i].right
		}
	}
	return nodes[i].prob
}
