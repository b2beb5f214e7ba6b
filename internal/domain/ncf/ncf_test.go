package ncf_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/encore/internal/domain/ncf"
	. "github.com/smartystreets/goconvey/convey"
)

// trainingSet builds a separable preference pattern: even users like
// even items, everyone dislikes the rest.
func trainingSet(nUsers, nItems int) []ncf.Sample {
	var samples []ncf.Sample
	for u := 0; u < nUsers; u++ {
		for i := 0; i < nItems; i++ {
			rating := 0.1
			if u%2 == i%2 {
				rating = 0.9
			}
			samples = append(samples, ncf.Sample{User: u, Item: i, Rating: rating})
		}
	}
	return samples
}

func TestPredictRange(t *testing.T) {
	Convey("Given an untrained model", t, func() {
		m := ncf.New(4, 6, ncf.WithEmbeddingDim(8), ncf.WithHiddenLayers([]int{16, 8}))

		Convey("Then every prediction is a probability", func() {
			for u := 0; u < 4; u++ {
				for i := 0; i < 6; i++ {
					p := m.Predict(u, i)
					So(p, ShouldBeGreaterThan, 0)
					So(p, ShouldBeLessThan, 1)
				}
			}
		})

		Convey("Then out-of-range pairs fall back to indifference", func() {
			So(m.Predict(-1, 0), ShouldEqual, 0.5)
			So(m.Predict(0, 99), ShouldEqual, 0.5)
		})

		Convey("Then PredictBatch matches Predict pairwise", func() {
			users := []int{0, 1, 2}
			items := []int{3, 4, 5}
			batch := m.PredictBatch(users, items)
			So(batch, ShouldHaveLength, 3)
			for k := range users {
				So(batch[k], ShouldEqual, m.Predict(users[k], items[k]))
			}
		})
	})
}

func TestDeterministicInitialization(t *testing.T) {
	Convey("Given two models built with the same seed", t, func() {
		a := ncf.New(3, 3, ncf.WithSeed(7))
		b := ncf.New(3, 3, ncf.WithSeed(7))

		Convey("Then their predictions are identical", func() {
			for u := 0; u < 3; u++ {
				for i := 0; i < 3; i++ {
					So(a.Predict(u, i), ShouldEqual, b.Predict(u, i))
				}
			}
		})

		Convey("And a different seed initializes differently", func() {
			c := ncf.New(3, 3, ncf.WithSeed(8))
			So(c.Predict(0, 0), ShouldNotEqual, a.Predict(0, 0))
		})
	})
}

func TestTrain(t *testing.T) {
	Convey("Given a model and a separable training set", t, func() {
		m := ncf.New(6, 6, ncf.WithEmbeddingDim(8), ncf.WithHiddenLayers([]int{16, 8}))
		samples := trainingSet(6, 6)

		Convey("When training with bounded epochs", func() {
			hist, err := m.Train(samples, ncf.TrainConfig{
				MaxEpochs:    5,
				BatchSize:    8,
				LearningRate: 0.01,
				Patience:     2,
			})

			Convey("Then the history reflects the run", func() {
				So(err, ShouldBeNil)
				So(hist.EpochsCompleted, ShouldBeGreaterThan, 0)
				So(hist.EpochsCompleted, ShouldBeLessThanOrEqualTo, 5)
				So(hist.TrainLoss, ShouldHaveLength, hist.EpochsCompleted)
				So(hist.ValLoss, ShouldHaveLength, hist.EpochsCompleted)
				So(hist.EpochTimes, ShouldHaveLength, hist.EpochsCompleted)
				So(math.IsInf(hist.BestValLoss, 1), ShouldBeFalse)
				So(hist.TotalTime, ShouldBeGreaterThan, 0)
			})

			Convey("Then predictions stay probabilities after training", func() {
				for u := 0; u < 6; u++ {
					for i := 0; i < 6; i++ {
						p := m.Predict(u, i)
						So(p, ShouldBeGreaterThan, 0)
						So(p, ShouldBeLessThan, 1)
					}
				}
			})
		})

		Convey("When training with no samples", func() {
			_, err := m.Train(nil, ncf.TrainConfig{})

			Convey("Then it returns ErrInsufficientData", func() {
				So(errors.Is(err, ncf.ErrInsufficientData), ShouldBeTrue)
			})
		})

		Convey("When a sample lies outside model capacity", func() {
			_, err := m.Train([]ncf.Sample{{User: 99, Item: 0, Rating: 1}}, ncf.TrainConfig{})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestUpdateOne(t *testing.T) {
	Convey("Given a model", t, func() {
		m := ncf.New(2, 2, ncf.WithEmbeddingDim(4), ncf.WithHiddenLayers([]int{8, 4}))

		Convey("When nudging one pair toward a like", func() {
			before := m.Predict(0, 0)
			for n := 0; n < 50; n++ {
				m.UpdateOne(0, 0, 1.0)
			}
			after := m.Predict(0, 0)

			Convey("Then the prediction moves toward the rating", func() {
				So(after, ShouldBeGreaterThan, before)
			})
		})

		Convey("When the pair is out of range", func() {
			before := m.Predict(0, 0)
			m.UpdateOne(5, 0, 1.0)

			Convey("Then nothing changes", func() {
				So(m.Predict(0, 0), ShouldEqual, before)
			})
		})

		Convey("When the model was trained at a non-default learning rate", func() {
			trained := ncf.New(3, 3, ncf.WithEmbeddingDim(4), ncf.WithHiddenLayers([]int{8, 4}))
			_, err := trained.Train(trainingSet(3, 3), ncf.TrainConfig{
				MaxEpochs: 2, BatchSize: 4, LearningRate: 0.05,
			})
			So(err, ShouldBeNil)

			st := trained.State()
			fast, err := ncf.FromState(st)
			So(err, ShouldBeNil)

			// An artifact without a recorded rate falls back to the
			// package default.
			noRate := *st
			noRate.LearningRate = 0
			slow, err := ncf.FromState(&noRate)
			So(err, ShouldBeNil)

			baseline := fast.Predict(0, 1)
			So(slow.Predict(0, 1), ShouldEqual, baseline)

			for n := 0; n < 10; n++ {
				fast.UpdateOne(0, 1, 1.0)
				slow.UpdateOne(0, 1, 1.0)
			}

			Convey("Then the incremental step scales with the training rate", func() {
				So(fast.Predict(0, 1)-baseline, ShouldBeGreaterThan, slow.Predict(0, 1)-baseline)
			})
		})
	})
}

func TestResize(t *testing.T) {
	Convey("Given a trained model", t, func() {
		m := ncf.New(3, 3, ncf.WithEmbeddingDim(4))
		_, err := m.Train(trainingSet(3, 3), ncf.TrainConfig{MaxEpochs: 2, BatchSize: 4})
		So(err, ShouldBeNil)

		userRow := m.EmbeddingRow("user_gmf", 1)
		itemRow := m.EmbeddingRow("item_mlp", 2)

		Convey("When growing the capacity", func() {
			m.Resize(5, 7)

			Convey("Then the new capacity is reported", func() {
				So(m.Users(), ShouldEqual, 5)
				So(m.Items(), ShouldEqual, 7)
			})

			Convey("Then existing rows survive verbatim", func() {
				So(m.EmbeddingRow("user_gmf", 1), ShouldResemble, userRow)
				So(m.EmbeddingRow("item_mlp", 2), ShouldResemble, itemRow)
			})

			Convey("Then new rows produce valid predictions", func() {
				p := m.Predict(4, 6)
				So(p, ShouldBeGreaterThan, 0)
				So(p, ShouldBeLessThan, 1)
			})
		})

		Convey("When shrinking is requested", func() {
			m.Resize(1, 1)

			Convey("Then the tables never shrink", func() {
				So(m.Users(), ShouldEqual, 3)
				So(m.Items(), ShouldEqual, 3)
			})
		})
	})
}

func TestStateRoundTrip(t *testing.T) {
	Convey("Given a trained model", t, func() {
		m := ncf.New(4, 4, ncf.WithEmbeddingDim(4), ncf.WithHiddenLayers([]int{8, 4}))
		_, err := m.Train(trainingSet(4, 4), ncf.TrainConfig{MaxEpochs: 2, BatchSize: 4})
		So(err, ShouldBeNil)

		Convey("When exporting and re-importing its state", func() {
			restored, err := ncf.FromState(m.State())

			Convey("Then predictions are preserved exactly", func() {
				So(err, ShouldBeNil)
				for u := 0; u < 4; u++ {
					for i := 0; i < 4; i++ {
						So(restored.Predict(u, i), ShouldEqual, m.Predict(u, i))
					}
				}
			})
		})

		Convey("When the state is corrupted", func() {
			s := m.State()
			s.UserGMF = s.UserGMF[:1]

			_, err := ncf.FromState(s)
			So(err, ShouldNotBeNil)
		})

		Convey("When the state is nil or inconsistent", func() {
			_, err := ncf.FromState(nil)
			So(err, ShouldNotBeNil)

			s := m.State()
			s.MLPB = s.MLPB[:1]
			_, err = ncf.FromState(s)
			So(err, ShouldNotBeNil)
		})
	})
}
