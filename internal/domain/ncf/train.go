package ncf

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Default training hyperparameters.
const (
	defaultValidationSplit = 0.1
	defaultMaxEpochs       = 10
	defaultBatchSize       = 256
	defaultLearningRate    = 0.001
	defaultWeightDecay     = 1e-5
	defaultPatience        = 3
)

// TrainConfig controls one full-batch training run. Zero values fall
// back to the package defaults.
type TrainConfig struct {
	ValidationSplit float64
	MaxEpochs       int
	BatchSize       int
	LearningRate    float64
	WeightDecay     float64
	Patience        int
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		c.ValidationSplit = defaultValidationSplit
	}
	if c.MaxEpochs <= 0 {
		c.MaxEpochs = defaultMaxEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = defaultLearningRate
	}
	if c.WeightDecay < 0 {
		c.WeightDecay = defaultWeightDecay
	}
	if c.Patience <= 0 {
		c.Patience = defaultPatience
	}
	return c
}

// History reports the outcome of one training run.
type History struct {
	TrainLoss       []float64
	ValLoss         []float64
	EpochTimes      []time.Duration
	TotalTime       time.Duration
	BestValLoss     float64
	EpochsCompleted int
	EarlyStopped    bool
}

// Train fits the model with mini-batch SGD on binary cross-entropy,
// treating the [0,1] ratings as soft labels. The samples are shuffled
// once and split positionally into train and validation partitions; the
// best-validation-loss parameters are checkpointed in memory and
// restored when training finishes. Training stops early after
// cfg.Patience consecutive epochs without validation improvement.
//
// Zero training rows return ErrInsufficientData and leave the current
// parameters untouched.
func (m *Model) Train(samples []Sample, cfg TrainConfig) (*History, error) {
	if len(samples) == 0 {
		return nil, ErrInsufficientData
	}
	cfg = cfg.withDefaults()
	m.trainLR = cfg.LearningRate
	m.trainDecay = cfg.WeightDecay
	start := time.Now()

	shuffled := append([]Sample(nil), samples...)
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	splitAt := int(float64(len(shuffled)) * (1 - cfg.ValidationSplit))
	if splitAt < 1 {
		splitAt = 1
	}
	train := shuffled[:splitAt]
	val := shuffled[splitAt:]

	for _, s := range shuffled {
		if s.User < 0 || s.User >= m.nUsers || s.Item < 0 || s.Item >= m.nItems {
			return nil, fmt.Errorf("sample (%d,%d) outside model capacity (%d users, %d items)",
				s.User, s.Item, m.nUsers, m.nItems)
		}
	}

	hist := &History{BestValLoss: inf()}
	var best *paramSnapshot
	patienceLeft := cfg.Patience

	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		epochStart := time.Now()

		m.rng.Shuffle(len(train), func(i, j int) {
			train[i], train[j] = train[j], train[i]
		})

		trainLoss := 0.0
		for at := 0; at < len(train); at += cfg.BatchSize {
			end := min(at+cfg.BatchSize, len(train))
			trainLoss += m.trainBatch(train[at:end], cfg.LearningRate, cfg.WeightDecay)
		}
		trainLoss /= float64(len(train))

		valLoss := m.evalLoss(val)
		if len(val) == 0 {
			valLoss = trainLoss
		}

		hist.TrainLoss = append(hist.TrainLoss, trainLoss)
		hist.ValLoss = append(hist.ValLoss, valLoss)
		hist.EpochTimes = append(hist.EpochTimes, time.Since(epochStart))

		if valLoss < hist.BestValLoss {
			hist.BestValLoss = valLoss
			best = m.snapshotParams()
			patienceLeft = cfg.Patience
		} else {
			patienceLeft--
			if patienceLeft <= 0 {
				hist.EarlyStopped = true
				break
			}
		}
	}

	if best != nil {
		m.restoreParams(best)
	}
	hist.EpochsCompleted = len(hist.TrainLoss)
	hist.TotalTime = time.Since(start)
	return hist, nil
}

// UpdateOne performs a single gradient step for one interaction at a
// learning rate one order of magnitude below the last full training
// rate. Indices outside the current capacity are ignored; the engine
// resizes before routing updates here.
func (m *Model) UpdateOne(user, item int, rating float64) {
	if user < 0 || user >= m.nUsers || item < 0 || item >= m.nItems {
		return
	}
	m.trainBatch([]Sample{{User: user, Item: item, Rating: rating}},
		m.trainLR*incrementalRateFactor, m.trainDecay)
}

// trainBatch accumulates gradients over one mini-batch and applies them
// once, returning the summed (unaveraged) loss.
func (m *Model) trainBatch(batch []Sample, lr, weightDecay float64) float64 {
	g := m.newGrads()
	loss := 0.0
	for _, s := range batch {
		st := m.forward(s.User, s.Item, true)
		loss += bceLoss(st.p, s.Rating)
		m.backward(st, s.Rating, g)
	}
	m.apply(g, lr, weightDecay, len(batch))
	return loss
}

func (m *Model) evalLoss(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range samples {
		total += bceLoss(m.forward(s.User, s.Item, false).p, s.Rating)
	}
	return total / float64(len(samples))
}

// grads accumulates parameter gradients for one mini-batch. Embedding
// gradients are sparse: only touched rows carry entries.
type grads struct {
	userGMF, itemGMF, userMLP, itemMLP map[int][]float64
	mlpW                               []*mat.Dense
	mlpB                               [][]float64
	outW                               []float64
	outB                               float64
}

func (m *Model) newGrads() *grads {
	g := &grads{
		userGMF: make(map[int][]float64),
		itemGMF: make(map[int][]float64),
		userMLP: make(map[int][]float64),
		itemMLP: make(map[int][]float64),
		mlpW:    make([]*mat.Dense, len(m.layers)),
		mlpB:    make([][]float64, len(m.layers)),
		outW:    make([]float64, len(m.outW)),
	}
	in := 2 * m.embeddingDim
	for l, out := range m.layers {
		g.mlpW[l] = mat.NewDense(out, in, nil)
		g.mlpB[l] = make([]float64, out)
		in = out
	}
	return g
}

func (g *grads) row(table map[int][]float64, idx, dim int) []float64 {
	r, ok := table[idx]
	if !ok {
		r = make([]float64, dim)
		table[idx] = r
	}
	return r
}

// backward accumulates gradients for one sample given its forward
// state. With a sigmoid output and BCE loss the output-unit gradient
// collapses to (p - y).
func (m *Model) backward(st *forwardState, y float64, g *grads) {
	dz := st.p - y

	for i, v := range st.final {
		g.outW[i] += dz * v
	}
	g.outB += dz

	dFinal := make([]float64, len(st.final))
	for i := range dFinal {
		dFinal[i] = dz * m.outW[i]
	}
	dGMF := dFinal[:m.embeddingDim]
	da := dFinal[m.embeddingDim:]

	// GMF branch: product rule against the opposite embedding.
	uG := mat.Row(nil, st.user, m.userGMF)
	iG := mat.Row(nil, st.item, m.itemGMF)
	duG := g.row(g.userGMF, st.user, m.embeddingDim)
	diG := g.row(g.itemGMF, st.item, m.embeddingDim)
	for j := 0; j < m.embeddingDim; j++ {
		duG[j] += dGMF[j] * iG[j]
		diG[j] += dGMF[j] * uG[j]
	}

	// MLP branch, last layer back to the concat input.
	for l := len(m.layers) - 1; l >= 0; l-- {
		if st.masks[l] != nil {
			for i := range da {
				da[i] *= st.masks[l][i]
			}
		}
		dzl := make([]float64, len(da))
		for i := range da {
			if st.preact[l][i] > 0 {
				dzl[i] = da[i]
			}
		}
		in := st.inputs[l]
		for i := range dzl {
			g.mlpB[l][i] += dzl[i]
			for j := range in {
				g.mlpW[l].Set(i, j, g.mlpW[l].At(i, j)+dzl[i]*in[j])
			}
		}
		prev := make([]float64, len(in))
		for j := range in {
			s := 0.0
			for i := range dzl {
				s += m.mlpW[l].At(i, j) * dzl[i]
			}
			prev[j] = s
		}
		da = prev
	}

	duM := g.row(g.userMLP, st.user, m.embeddingDim)
	diM := g.row(g.itemMLP, st.item, m.embeddingDim)
	for j := 0; j < m.embeddingDim; j++ {
		duM[j] += da[j]
		diM[j] += da[m.embeddingDim+j]
	}
}

// apply performs one SGD step with the batch-averaged gradients and L2
// weight decay.
func (m *Model) apply(g *grads, lr, weightDecay float64, batchSize int) {
	if batchSize <= 0 {
		return
	}
	scale := 1 / float64(batchSize)

	applyRows := func(table *mat.Dense, rows map[int][]float64) {
		for idx, grad := range rows {
			for j, gv := range grad {
				v := table.At(idx, j)
				table.Set(idx, j, v-lr*(gv*scale+weightDecay*v))
			}
		}
	}
	applyRows(m.userGMF, g.userGMF)
	applyRows(m.itemGMF, g.itemGMF)
	applyRows(m.userMLP, g.userMLP)
	applyRows(m.itemMLP, g.itemMLP)

	for l := range m.mlpW {
		rows, cols := m.mlpW[l].Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v := m.mlpW[l].At(i, j)
				m.mlpW[l].Set(i, j, v-lr*(g.mlpW[l].At(i, j)*scale+weightDecay*v))
			}
			m.mlpB[l][i] -= lr * g.mlpB[l][i] * scale
		}
	}
	for i := range m.outW {
		v := m.outW[i]
		m.outW[i] = v - lr*(g.outW[i]*scale+weightDecay*v)
	}
	m.outB -= lr * g.outB * scale
}

func inf() float64 {
	return math.Inf(1)
}
