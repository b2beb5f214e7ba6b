package hybrid_test

import (
	"testing"

	"github.com/okian/encore/internal/domain/content"
	"github.com/okian/encore/internal/domain/hybrid"
	"github.com/okian/encore/internal/domain/model"
	"github.com/okian/encore/internal/domain/ncf"
	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

const tolerance = 1e-9

func buildScorer() (*hybrid.Scorer, *ncf.Model, *content.Model) {
	latent := ncf.New(3, 4, ncf.WithEmbeddingDim(4), ncf.WithHiddenLayers([]int{8, 4}))
	cm := content.New()
	cm.Rebuild(mat.NewDense(4, 2, []float64{
		1, 0,
		1, 0,
		0, 1,
		1, 1,
	}))
	return hybrid.New(latent, cm, 0.7, 0.3), latent, cm
}

func TestWeightNormalization(t *testing.T) {
	Convey("Given a scorer", t, func() {
		s, _, _ := buildScorer()

		Convey("When weights are set unnormalized", func() {
			s.SetWeights(2, 2)

			cf, cb := s.Weights()
			So(cf, ShouldAlmostEqual, 0.5, tolerance)
			So(cb, ShouldAlmostEqual, 0.5, tolerance)
		})

		Convey("When weights sum to zero", func() {
			s.SetWeights(0, 0)

			cf, cb := s.Weights()
			So(cf, ShouldAlmostEqual, hybrid.DefaultCFWeight, tolerance)
			So(cb, ShouldAlmostEqual, hybrid.DefaultCBWeight, tolerance)
		})

		Convey("When one side carries all the weight", func() {
			s.SetWeights(1, 0)

			cf, cb := s.Weights()
			So(cf, ShouldAlmostEqual, 1, tolerance)
			So(cb, ShouldAlmostEqual, 0, tolerance)
		})
	})
}

func TestPredictBlending(t *testing.T) {
	Convey("Given a scorer and a user history", t, func() {
		s, latent, cm := buildScorer()
		history := []model.RatedItem{{ItemIdx: 0, Rating: 1}}

		Convey("Then Predict is the weighted sum of both sources", func() {
			cf := latent.Predict(0, 1)
			contentScores := cm.ScoreCandidates(history)

			got := s.Predict(0, 1, history)
			So(got, ShouldAlmostEqual, 0.7*cf+0.3*contentScores[1], tolerance)
		})

		Convey("Then an out-of-range item contributes no content score", func() {
			got := s.Predict(0, -1, history)
			So(got, ShouldAlmostEqual, 0.7*latent.Predict(0, -1), tolerance)
		})
	})
}

func TestRecommend(t *testing.T) {
	Convey("Given a scorer and a user who played item 0", t, func() {
		s, _, _ := buildScorer()
		history := []model.RatedItem{{ItemIdx: 0, Rating: 1}}

		Convey("When recommending", func() {
			got := s.Recommend(0, history, 10, nil, false)

			Convey("Then history items are excluded", func() {
				for _, r := range got {
					So(r.ItemIdx, ShouldNotEqual, 0)
				}
				So(got, ShouldHaveLength, 3)
			})

			Convey("Then results are sorted by score descending", func() {
				for i := 1; i < len(got); i++ {
					So(got[i-1].Score, ShouldBeGreaterThanOrEqualTo, got[i].Score)
				}
			})

			Convey("Then each result carries its unweighted breakdown", func() {
				cf, cb := s.Weights()
				for _, r := range got {
					So(r.Score, ShouldAlmostEqual, cf*r.Collaborative+cb*r.ContentBased, tolerance)
				}
			})
		})

		Convey("When includeLiked is set", func() {
			got := s.Recommend(0, history, 10, nil, true)

			Convey("Then history items are eligible again", func() {
				So(got, ShouldHaveLength, 4)
			})
		})

		Convey("When a caller exclusion set is supplied", func() {
			got := s.Recommend(0, history, 10, map[int]struct{}{1: {}, 2: {}}, false)

			Convey("Then it unions with the history exclusion", func() {
				So(got, ShouldHaveLength, 1)
				So(got[0].ItemIdx, ShouldEqual, 3)
			})
		})

		Convey("When n is smaller than the candidate pool", func() {
			got := s.Recommend(0, history, 2, nil, false)
			So(got, ShouldHaveLength, 2)
		})

		Convey("Then repeated calls return identical rankings", func() {
			first := s.Recommend(0, history, 10, nil, false)
			second := s.Recommend(0, history, 10, nil, false)
			So(second, ShouldResemble, first)
		})
	})
}
