package interactions_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/encore/internal/domain/index"
	"github.com/okian/encore/internal/domain/interactions"
	"github.com/okian/encore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStoreUpsert(t *testing.T) {
	Convey("Given an empty store", t, func() {
		idx := index.New()
		store := interactions.New(idx)

		Convey("When upserting a rating", func() {
			userIdx, itemIdx, err := store.Upsert("alice", "song-1", 0.8)

			Convey("Then the row is stored and indexed", func() {
				So(err, ShouldBeNil)
				So(userIdx, ShouldEqual, 0)
				So(itemIdx, ShouldEqual, 0)
				So(store.Count(), ShouldEqual, 1)
				So(store.CountForUser("alice"), ShouldEqual, 1)

				r, ok := store.Rating(userIdx, itemIdx)
				So(ok, ShouldBeTrue)
				So(r, ShouldEqual, 0.8)
			})
		})

		Convey("When upserting the same pair twice", func() {
			_, _, _ = store.Upsert("alice", "song-1", 0.8)
			userIdx, itemIdx, err := store.Upsert("alice", "song-1", 0.2)

			Convey("Then the last write wins and no extra row appears", func() {
				So(err, ShouldBeNil)
				So(store.Count(), ShouldEqual, 1)

				r, _ := store.Rating(userIdx, itemIdx)
				So(r, ShouldEqual, 0.2)
			})
		})

		Convey("When upserting invalid ratings", func() {
			cases := []float64{-0.1, 1.1, math.NaN(), math.Inf(1)}
			for _, r := range cases {
				_, _, err := store.Upsert("alice", "song-1", r)
				So(errors.Is(err, interactions.ErrInvalidRating), ShouldBeTrue)
			}

			Convey("Then nothing is stored", func() {
				So(store.Count(), ShouldEqual, 0)
			})
		})
	})
}

func TestStorePreferenceSets(t *testing.T) {
	Convey("Given a store with mixed ratings", t, func() {
		idx := index.New()
		store := interactions.New(idx)

		uIdx, likedIdx, _ := store.Upsert("alice", "liked", 1.0)
		_, skippedIdx, _ := store.Upsert("alice", "skipped", 0.2)
		_, midIdx, _ := store.Upsert("alice", "middling", 0.5)

		Convey("Then items land in the right set", func() {
			pos := store.PositiveSet(uIdx)
			neg := store.NegativeSet(uIdx)

			So(pos, ShouldContainKey, likedIdx)
			So(neg, ShouldContainKey, skippedIdx)
			So(pos, ShouldNotContainKey, midIdx)
			So(neg, ShouldNotContainKey, midIdx)
		})

		Convey("Then boundary ratings are inclusive", func() {
			_, atPos, _ := store.Upsert("alice", "at-pos", 0.6)
			_, atNeg, _ := store.Upsert("alice", "at-neg", 0.3)

			So(store.PositiveSet(uIdx), ShouldContainKey, atPos)
			So(store.NegativeSet(uIdx), ShouldContainKey, atNeg)
		})

		Convey("When a like is followed by a skip on the same item", func() {
			_, _, err := store.Upsert("alice", "liked", 0.2)

			Convey("Then the item moves from positive to negative", func() {
				So(err, ShouldBeNil)
				So(store.PositiveSet(uIdx), ShouldNotContainKey, likedIdx)
				So(store.NegativeSet(uIdx), ShouldContainKey, likedIdx)
			})
		})
	})
}

func TestStoreHistory(t *testing.T) {
	Convey("Given a store with a user history", t, func() {
		idx := index.New()
		store := interactions.New(idx)

		base := time.Now()
		store.LoadBulk([]model.Interaction{
			{UserID: "alice", ItemID: "first", Rating: 0.9, Timestamp: base},
			{UserID: "alice", ItemID: "second", Rating: 0.4, Timestamp: base.Add(time.Minute)},
			{UserID: "alice", ItemID: "third", Rating: 0.7, Timestamp: base.Add(2 * time.Minute)},
			{UserID: "bob", ItemID: "first", Rating: 0.2, Timestamp: base},
		})

		Convey("Then History preserves first-interaction order", func() {
			hist := store.History("alice")
			So(hist, ShouldHaveLength, 3)
			So(hist[0].Rating, ShouldEqual, 0.9)
			So(hist[1].Rating, ShouldEqual, 0.4)
			So(hist[2].Rating, ShouldEqual, 0.7)
		})

		Convey("Then RecentItems is newest first and bounded", func() {
			thirdIdx, _ := idx.LookupItem("third")
			secondIdx, _ := idx.LookupItem("second")

			recent := store.RecentItems("alice", 2)
			So(recent, ShouldResemble, []int{thirdIdx, secondIdx})
		})

		Convey("Then HistoryItems returns the full item set", func() {
			items := store.HistoryItems("alice")
			So(items, ShouldHaveLength, 3)
			So(store.HistoryItems("nobody"), ShouldBeEmpty)
		})

		Convey("Then item interaction counts aggregate across users", func() {
			firstIdx, _ := idx.LookupItem("first")
			So(store.ItemInteractionCount(firstIdx), ShouldEqual, 2)
		})

		Convey("Then TrainingTriples covers every row once", func() {
			So(store.TrainingTriples(), ShouldHaveLength, 4)
		})

		Convey("When bulk loading again", func() {
			store.LoadBulk([]model.Interaction{
				{UserID: "carol", ItemID: "first", Rating: 0.6, Timestamp: base},
			})

			Convey("Then the previous table is replaced", func() {
				So(store.Count(), ShouldEqual, 1)
				So(store.CountForUser("alice"), ShouldEqual, 0)
			})
		})

		Convey("When bulk loading rows with invalid ratings", func() {
			store.LoadBulk([]model.Interaction{
				{UserID: "carol", ItemID: "first", Rating: 2.0},
				{UserID: "carol", ItemID: "second", Rating: 0.5},
			})

			Convey("Then the invalid row is skipped", func() {
				So(store.Count(), ShouldEqual, 1)
			})
		})
	})
}
