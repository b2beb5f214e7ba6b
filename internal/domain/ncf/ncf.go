// Package ncf implements the latent interaction model: a neural
// collaborative filter that predicts a user-item affinity in [0,1].
//
// Two embedding pairs exist per user and item. The GMF pair is combined
// by element-wise product and captures the linear interaction; the MLP
// pair is concatenated and passed through a stack of fully-connected
// ReLU layers with dropout between the hidden layers. Both branch
// outputs are concatenated into a single linear output unit squashed by
// a logistic sigmoid.
//
// Everything is plain gonum arithmetic; training is hand-rolled
// mini-batch SGD with weight decay. Parameters are not internally
// locked: the engine serializes gradient steps, resizes and parameter
// swaps behind its writer lock.
package ncf

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Sentinel kinds for model errors.
var (
	// ErrInsufficientData is returned by Train when no training rows
	// exist. It is a result, not a panic; the previous parameters stay
	// untouched.
	ErrInsufficientData = errors.New("no training data")
)

// Default hyperparameters, matching the engine defaults in config.
const (
	defaultEmbeddingDim = 32
	defaultDropout      = 0.2
	defaultSeed         = 42

	// Incremental updates run one order of magnitude below the full
	// training rate.
	incrementalRateFactor = 0.1

	bceEpsilon = 1e-7
	embedStd   = 0.01
)

// Sample is one training triple addressed by dense indices.
type Sample struct {
	User   int
	Item   int
	Rating float64
}

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithEmbeddingDim sets the embedding width for both branch pairs.
func WithEmbeddingDim(dim int) Option {
	return func(m *Model) {
		if dim > 0 {
			m.embeddingDim = dim
		}
	}
}

// WithHiddenLayers sets the MLP layer widths.
func WithHiddenLayers(layers []int) Option {
	return func(m *Model) {
		if len(layers) > 0 {
			m.layers = append([]int(nil), layers...)
		}
	}
}

// WithDropout sets the dropout probability between hidden layers.
func WithDropout(p float64) Option {
	return func(m *Model) {
		if p >= 0 && p < 1 {
			m.dropout = p
		}
	}
}

// WithSeed fixes the RNG seed for initialization, shuffling and dropout.
func WithSeed(seed int64) Option {
	return func(m *Model) {
		m.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic seed for reproducible training
	}
}

// Model is the neural collaborative filter.
type Model struct {
	nUsers       int
	nItems       int
	embeddingDim int
	layers       []int
	dropout      float64

	// Last full-training hyperparameters; UpdateOne derives its step
	// size from these.
	trainLR    float64
	trainDecay float64

	userGMF *mat.Dense // (nUsers, embeddingDim)
	itemGMF *mat.Dense
	userMLP *mat.Dense
	itemMLP *mat.Dense

	mlpW []*mat.Dense // layer l: (layers[l], in)
	mlpB [][]float64
	outW []float64 // (embeddingDim + last layer)
	outB float64

	rng *rand.Rand
}

// New creates a model sized for the index ranges known at creation
// time; Resize grows the tables when new users or items appear later.
func New(nUsers, nItems int, opts ...Option) *Model {
	m := &Model{
		nUsers:       max(nUsers, 1),
		nItems:       max(nItems, 1),
		embeddingDim: defaultEmbeddingDim,
		layers:       []int{64, 32, 16, 8},
		dropout:      defaultDropout,
		trainLR:      defaultLearningRate,
		trainDecay:   defaultWeightDecay,
		rng:          rand.New(rand.NewSource(defaultSeed)), //nolint:gosec // deterministic seed for reproducible training
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initParams()
	return m
}

// Users returns the user capacity of the embedding tables.
func (m *Model) Users() int { return m.nUsers }

// Items returns the item capacity of the embedding tables.
func (m *Model) Items() int { return m.nItems }

// EmbeddingDim returns the embedding width.
func (m *Model) EmbeddingDim() int { return m.embeddingDim }

func (m *Model) initParams() {
	m.userGMF = m.randomEmbedding(m.nUsers)
	m.itemGMF = m.randomEmbedding(m.nItems)
	m.userMLP = m.randomEmbedding(m.nUsers)
	m.itemMLP = m.randomEmbedding(m.nItems)

	in := 2 * m.embeddingDim
	m.mlpW = make([]*mat.Dense, len(m.layers))
	m.mlpB = make([][]float64, len(m.layers))
	for l, out := range m.layers {
		m.mlpW[l] = m.xavier(out, in)
		m.mlpB[l] = make([]float64, out)
		in = out
	}

	outIn := m.embeddingDim + m.layers[len(m.layers)-1]
	m.outW = make([]float64, outIn)
	limit := math.Sqrt(6.0 / float64(outIn+1))
	for i := range m.outW {
		m.outW[i] = (m.rng.Float64()*2 - 1) * limit
	}
	m.outB = 0
}

func (m *Model) randomEmbedding(rows int) *mat.Dense {
	e := mat.NewDense(rows, m.embeddingDim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < m.embeddingDim; j++ {
			e.Set(i, j, m.rng.NormFloat64()*embedStd)
		}
	}
	return e
}

func (m *Model) xavier(out, in int) *mat.Dense {
	w := mat.NewDense(out, in, nil)
	limit := math.Sqrt(6.0 / float64(in+out))
	for i := 0; i < out; i++ {
		for j := 0; j < in; j++ {
			w.Set(i, j, (m.rng.Float64()*2-1)*limit)
		}
	}
	return w
}

// forwardState keeps the intermediate activations one backward pass
// needs.
type forwardState struct {
	user, item int
	gmf        []float64   // element-wise product
	inputs     [][]float64 // MLP input per layer (inputs[0] is the concat)
	preact     [][]float64 // z per layer
	masks      [][]float64 // inverted-dropout scale per hidden layer, nil in eval
	final      []float64   // concat(gmf, last activation)
	p          float64
}

// forward runs one sample through the network. In training mode dropout
// masks are sampled; in eval mode the pass is deterministic.
func (m *Model) forward(user, item int, training bool) *forwardState {
	st := &forwardState{user: user, item: item}

	uG := mat.Row(nil, user, m.userGMF)
	iG := mat.Row(nil, item, m.itemGMF)
	st.gmf = make([]float64, m.embeddingDim)
	for j := range st.gmf {
		st.gmf[j] = uG[j] * iG[j]
	}

	h := make([]float64, 0, 2*m.embeddingDim)
	h = append(h, mat.Row(nil, user, m.userMLP)...)
	h = append(h, mat.Row(nil, item, m.itemMLP)...)

	st.inputs = make([][]float64, len(m.layers))
	st.preact = make([][]float64, len(m.layers))
	st.masks = make([][]float64, len(m.layers))
	for l := range m.layers {
		st.inputs[l] = h
		z := mulVec(m.mlpW[l], h)
		floats.Add(z, m.mlpB[l])
		st.preact[l] = z

		a := make([]float64, len(z))
		for i, v := range z {
			if v > 0 {
				a[i] = v
			}
		}
		if training && m.dropout > 0 && l < len(m.layers)-1 {
			mask := make([]float64, len(a))
			keep := 1 - m.dropout
			for i := range mask {
				if m.rng.Float64() < keep {
					mask[i] = 1 / keep
				}
			}
			st.masks[l] = mask
			for i := range a {
				a[i] *= mask[i]
			}
		}
		h = a
	}

	st.final = make([]float64, 0, len(st.gmf)+len(h))
	st.final = append(st.final, st.gmf...)
	st.final = append(st.final, h...)

	z := floats.Dot(m.outW, st.final) + m.outB
	st.p = sigmoid(z)
	return st
}

// Predict returns the affinity for one (user, item) pair in eval mode.
// Out-of-range indices fall back to 0.5, the sigmoid resting point.
func (m *Model) Predict(user, item int) float64 {
	if user < 0 || user >= m.nUsers || item < 0 || item >= m.nItems {
		return 0.5
	}
	return m.forward(user, item, false).p
}

// PredictBatch vectorizes Predict over parallel index slices.
func (m *Model) PredictBatch(users, items []int) []float64 {
	n := min(len(users), len(items))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = m.Predict(users[i], items[i])
	}
	return out
}

// Resize grows the embedding tables to the new index ranges. Rows below
// the previous capacity are preserved byte for byte; only the added
// rows are freshly initialized. Resize never shrinks.
func (m *Model) Resize(nUsers, nItems int) {
	if nUsers > m.nUsers {
		m.userGMF = m.growEmbedding(m.userGMF, nUsers)
		m.userMLP = m.growEmbedding(m.userMLP, nUsers)
		m.nUsers = nUsers
	}
	if nItems > m.nItems {
		m.itemGMF = m.growEmbedding(m.itemGMF, nItems)
		m.itemMLP = m.growEmbedding(m.itemMLP, nItems)
		m.nItems = nItems
	}
}

func (m *Model) growEmbedding(e *mat.Dense, rows int) *mat.Dense {
	old, _ := e.Dims()
	grown := m.randomEmbedding(rows)
	grown.Slice(0, old, 0, m.embeddingDim).(*mat.Dense).Copy(e)
	return grown
}

func mulVec(w *mat.Dense, x []float64) []float64 {
	rows, _ := w.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(w, mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// bceLoss is binary cross-entropy against a soft label.
func bceLoss(p, y float64) float64 {
	p = clamp(p, bceEpsilon, 1-bceEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
