package ncf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// paramSnapshot is the in-memory checkpoint taken on every validation
// improvement during Train.
type paramSnapshot struct {
	userGMF, itemGMF, userMLP, itemMLP *mat.Dense
	mlpW                               []*mat.Dense
	mlpB                               [][]float64
	outW                               []float64
	outB                               float64
}

func (m *Model) snapshotParams() *paramSnapshot {
	s := &paramSnapshot{
		userGMF: mat.DenseCopyOf(m.userGMF),
		itemGMF: mat.DenseCopyOf(m.itemGMF),
		userMLP: mat.DenseCopyOf(m.userMLP),
		itemMLP: mat.DenseCopyOf(m.itemMLP),
		outW:    append([]float64(nil), m.outW...),
		outB:    m.outB,
	}
	for _, w := range m.mlpW {
		s.mlpW = append(s.mlpW, mat.DenseCopyOf(w))
	}
	for _, b := range m.mlpB {
		s.mlpB = append(s.mlpB, append([]float64(nil), b...))
	}
	return s
}

func (m *Model) restoreParams(s *paramSnapshot) {
	m.userGMF = mat.DenseCopyOf(s.userGMF)
	m.itemGMF = mat.DenseCopyOf(s.itemGMF)
	m.userMLP = mat.DenseCopyOf(s.userMLP)
	m.itemMLP = mat.DenseCopyOf(s.itemMLP)
	m.mlpW = nil
	m.mlpB = nil
	for _, w := range s.mlpW {
		m.mlpW = append(m.mlpW, mat.DenseCopyOf(w))
	}
	for _, b := range s.mlpB {
		m.mlpB = append(m.mlpB, append([]float64(nil), b...))
	}
	m.outW = append([]float64(nil), s.outW...)
	m.outB = s.outB
}

// State is the gob-encodable form of the model: architecture
// hyperparameters plus every parameter tensor as raw row-major data.
type State struct {
	NUsers       int
	NItems       int
	EmbeddingDim int
	Layers       []int
	Dropout      float64
	LearningRate float64
	WeightDecay  float64

	UserGMF []float64
	ItemGMF []float64
	UserMLP []float64
	ItemMLP []float64
	MLPW    [][]float64
	MLPB    [][]float64
	OutW    []float64
	OutB    float64
}

// State exports the model for persistence.
func (m *Model) State() *State {
	s := &State{
		NUsers:       m.nUsers,
		NItems:       m.nItems,
		EmbeddingDim: m.embeddingDim,
		Layers:       append([]int(nil), m.layers...),
		Dropout:      m.dropout,
		LearningRate: m.trainLR,
		WeightDecay:  m.trainDecay,
		UserGMF:      rawData(m.userGMF),
		ItemGMF:      rawData(m.itemGMF),
		UserMLP:      rawData(m.userMLP),
		ItemMLP:      rawData(m.itemMLP),
		OutW:         append([]float64(nil), m.outW...),
		OutB:         m.outB,
	}
	for _, w := range m.mlpW {
		s.MLPW = append(s.MLPW, rawData(w))
	}
	for _, b := range m.mlpB {
		s.MLPB = append(s.MLPB, append([]float64(nil), b...))
	}
	return s
}

// FromState rebuilds a model from a persisted State, validating the
// tensor shapes against the declared architecture.
func FromState(s *State) (*Model, error) {
	if s == nil || s.NUsers <= 0 || s.NItems <= 0 || s.EmbeddingDim <= 0 || len(s.Layers) == 0 {
		return nil, fmt.Errorf("model state: invalid architecture")
	}
	m := New(s.NUsers, s.NItems,
		WithEmbeddingDim(s.EmbeddingDim),
		WithHiddenLayers(s.Layers),
		WithDropout(s.Dropout),
	)
	if s.LearningRate > 0 {
		m.trainLR = s.LearningRate
	}
	if s.WeightDecay > 0 {
		m.trainDecay = s.WeightDecay
	}
	var err error
	if m.userGMF, err = denseFrom(s.UserGMF, s.NUsers, s.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("user gmf embedding: %w", err)
	}
	if m.itemGMF, err = denseFrom(s.ItemGMF, s.NItems, s.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("item gmf embedding: %w", err)
	}
	if m.userMLP, err = denseFrom(s.UserMLP, s.NUsers, s.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("user mlp embedding: %w", err)
	}
	if m.itemMLP, err = denseFrom(s.ItemMLP, s.NItems, s.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("item mlp embedding: %w", err)
	}
	if len(s.MLPW) != len(s.Layers) || len(s.MLPB) != len(s.Layers) {
		return nil, fmt.Errorf("model state: %d layer tensors for %d layers", len(s.MLPW), len(s.Layers))
	}
	in := 2 * s.EmbeddingDim
	m.mlpW = nil
	m.mlpB = nil
	for l, out := range s.Layers {
		w, werr := denseFrom(s.MLPW[l], out, in)
		if werr != nil {
			return nil, fmt.Errorf("mlp layer %d: %w", l, werr)
		}
		if len(s.MLPB[l]) != out {
			return nil, fmt.Errorf("mlp layer %d: bias length %d, want %d", l, len(s.MLPB[l]), out)
		}
		m.mlpW = append(m.mlpW, w)
		m.mlpB = append(m.mlpB, append([]float64(nil), s.MLPB[l]...))
		in = out
	}
	outIn := s.EmbeddingDim + s.Layers[len(s.Layers)-1]
	if len(s.OutW) != outIn {
		return nil, fmt.Errorf("output layer: weight length %d, want %d", len(s.OutW), outIn)
	}
	m.outW = append([]float64(nil), s.OutW...)
	m.outB = s.OutB
	return m, nil
}

// EmbeddingRow returns one row of a named embedding table, primarily
// for tests asserting the resize invariant. Table names: "user_gmf",
// "item_gmf", "user_mlp", "item_mlp".
func (m *Model) EmbeddingRow(table string, idx int) []float64 {
	var t *mat.Dense
	switch table {
	case "user_gmf":
		t = m.userGMF
	case "item_gmf":
		t = m.itemGMF
	case "user_mlp":
		t = m.userMLP
	case "item_mlp":
		t = m.itemMLP
	default:
		return nil
	}
	rows, _ := t.Dims()
	if idx < 0 || idx >= rows {
		return nil
	}
	return mat.Row(nil, idx, t)
}

func rawData(d *mat.Dense) []float64 {
	r, c := d.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, mat.Row(nil, i, d)...)
	}
	return out
}

func denseFrom(data []float64, rows, cols int) (*mat.Dense, error) {
	if len(data) != rows*cols {
		return nil, fmt.Errorf("tensor length %d, want %d (%dx%d)", len(data), rows*cols, rows, cols)
	}
	return mat.NewDense(rows, cols, append([]float64(nil), data...)), nil
}
