package coldstart_test

import (
	"testing"

	"github.com/okian/encore/internal/domain/coldstart"
	"github.com/okian/encore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type stubCatalog struct {
	meta map[int]model.ItemMeta
	n    int
}

func (c *stubCatalog) Meta(itemIdx int) (model.ItemMeta, bool) {
	m, ok := c.meta[itemIdx]
	return m, ok
}

func (c *stubCatalog) Items() int { return c.n }

type stubActivity struct {
	recent  map[string][]int
	counts  map[int]int
	history map[string]map[int]struct{}
}

func (a *stubActivity) RecentItems(userID string, n int) []int {
	r := a.recent[userID]
	if n < len(r) {
		r = r[:n]
	}
	return r
}

func (a *stubActivity) ItemInteractionCount(itemIdx int) int { return a.counts[itemIdx] }

func (a *stubActivity) HistoryItems(userID string) map[int]struct{} {
	if h, ok := a.history[userID]; ok {
		return h
	}
	return map[int]struct{}{}
}

func TestColdStartPopularity(t *testing.T) {
	Convey("Given a catalog and a user with no history", t, func() {
		catalog := &stubCatalog{
			n: 3,
			meta: map[int]model.ItemMeta{
				0: {Genre: "jazz", Popularity: 30},
				1: {Genre: "rock", Popularity: 90},
				2: {Genre: "pop", Popularity: 60},
			},
		}
		activity := &stubActivity{}
		r := coldstart.New(catalog, activity)

		Convey("When recommending", func() {
			ranked, seedGenres := r.Recommend("newcomer", 3)

			Convey("Then items come back by popularity with no seed genres", func() {
				So(seedGenres, ShouldBeEmpty)
				So(ranked, ShouldHaveLength, 3)
				So(ranked[0].ItemIdx, ShouldEqual, 1)
				So(ranked[1].ItemIdx, ShouldEqual, 2)
				So(ranked[2].ItemIdx, ShouldEqual, 0)
			})

			Convey("Then scores are the 0-1 popularity proxy", func() {
				So(ranked[0].Popularity, ShouldAlmostEqual, 0.9, 1e-9)
				So(ranked[0].GenreMatch, ShouldEqual, 0)
			})
		})

		Convey("When an item has no catalog popularity", func() {
			catalog.meta[2] = model.ItemMeta{Genre: "pop"}
			activity.counts = map[int]int{2: 3}

			ranked, _ := r.Recommend("newcomer", 3)

			Convey("Then its interaction count fills in, squashed below 1", func() {
				var pop float64
				for _, s := range ranked {
					if s.ItemIdx == 2 {
						pop = s.Popularity
					}
				}
				So(pop, ShouldAlmostEqual, 0.75, 1e-9)
			})
		})
	})
}

func TestColdStartGenreSeeding(t *testing.T) {
	Convey("Given a user with recent jazz plays", t, func() {
		catalog := &stubCatalog{
			n: 4,
			meta: map[int]model.ItemMeta{
				0: {Genre: "jazz", Popularity: 20},
				1: {Genre: "jazz", Popularity: 40},
				2: {Genre: "rock", Popularity: 95},
				3: {Genre: "rock", Popularity: 90},
			},
		}
		activity := &stubActivity{
			recent:  map[string][]int{"alice": {0}},
			history: map[string]map[int]struct{}{"alice": {0: {}}},
		}
		r := coldstart.New(catalog, activity)

		Convey("When recommending", func() {
			ranked, seedGenres := r.Recommend("alice", 3)

			Convey("Then her recent genres seed the ranking", func() {
				So(seedGenres, ShouldResemble, []string{"jazz"})
			})

			Convey("Then genre matches outrank more popular other genres", func() {
				So(ranked[0].ItemIdx, ShouldEqual, 1)
				So(ranked[0].GenreMatch, ShouldAlmostEqual, 0.4*1.3, 1e-9)
				So(ranked[1].ItemIdx, ShouldEqual, 2)
			})

			Convey("Then items already in her history are excluded", func() {
				for _, s := range ranked {
					So(s.ItemIdx, ShouldNotEqual, 0)
				}
			})
		})

		Convey("When asking for fewer slots than candidates", func() {
			ranked, _ := r.Recommend("alice", 1)
			So(ranked, ShouldHaveLength, 1)
			So(ranked[0].ItemIdx, ShouldEqual, 1)
		})

		Convey("When the recent window is narrowed", func() {
			activity.recent["alice"] = []int{2, 0}
			narrow := coldstart.New(catalog, activity, coldstart.WithRecentWindow(1))

			_, seedGenres := narrow.Recommend("alice", 3)

			Convey("Then only the newest interaction seeds genres", func() {
				So(seedGenres, ShouldResemble, []string{"rock"})
			})
		})
	})
}
