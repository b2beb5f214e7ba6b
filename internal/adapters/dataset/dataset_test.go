package dataset_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/encore/internal/adapters/dataset"
	. "github.com/smartystreets/goconvey/convey"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestInteractionsFile(t *testing.T) {
	Convey("Given an interactions JSON file", t, func() {
		ctx := context.Background()

		Convey("When reading well-formed rows", func() {
			path := writeFile(t, "interactions.json", `[
				{"user_id": "alice", "item_id": "song-1", "rating": 0.8, "timestamp": "2026-08-01T10:00:00Z"},
				{"user_id": "bob", "item_id": "song-2", "rating": 0.2}
			]`)

			rows, err := dataset.NewInteractionsFile(path).Interactions(ctx)

			Convey("Then rows decode with parsed timestamps", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 2)
				So(rows[0].UserID, ShouldEqual, "alice")
				So(rows[0].Rating, ShouldEqual, 0.8)
				So(rows[0].Timestamp.IsZero(), ShouldBeFalse)
				So(rows[1].Timestamp.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When a row is missing identifiers", func() {
			path := writeFile(t, "interactions.json", `[{"user_id": "", "item_id": "song-1", "rating": 0.5}]`)

			_, err := dataset.NewInteractionsFile(path).Interactions(ctx)
			So(errors.Is(err, dataset.ErrDecodeDataset), ShouldBeTrue)
		})

		Convey("When the timestamp is malformed", func() {
			path := writeFile(t, "interactions.json", `[{"user_id": "a", "item_id": "b", "rating": 0.5, "timestamp": "yesterday"}]`)

			_, err := dataset.NewInteractionsFile(path).Interactions(ctx)
			So(errors.Is(err, dataset.ErrDecodeDataset), ShouldBeTrue)
		})

		Convey("When the file does not exist", func() {
			_, err := dataset.NewInteractionsFile("/missing/interactions.json").Interactions(ctx)
			So(errors.Is(err, dataset.ErrOpenDataset), ShouldBeTrue)
		})

		Convey("When the file is not JSON", func() {
			path := writeFile(t, "interactions.json", `not json`)

			_, err := dataset.NewInteractionsFile(path).Interactions(ctx)
			So(errors.Is(err, dataset.ErrDecodeDataset), ShouldBeTrue)
		})
	})
}

func TestCatalogFile(t *testing.T) {
	Convey("Given a catalog JSON file", t, func() {
		ctx := context.Background()

		Convey("When reading items with mixed feature types", func() {
			path := writeFile(t, "catalog.json", `[
				{"item_id": "song-1", "genre": "jazz", "popularity": 72,
				 "features": {"tempo": 118, "energy": 0.7, "key": "C#m", "live": true}},
				{"item_id": "song-2"}
			]`)

			entries, err := dataset.NewCatalogFile(path).Catalog(ctx)

			Convey("Then only numeric features survive", func() {
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].Features, ShouldResemble, map[string]float64{"tempo": 118, "energy": 0.7})
				So(entries[0].Meta.Genre, ShouldEqual, "jazz")
				So(entries[0].Meta.Popularity, ShouldEqual, 72)
			})

			Convey("Then metadata-free items still decode", func() {
				So(entries[1].ItemID, ShouldEqual, "song-2")
				So(entries[1].Features, ShouldBeEmpty)
			})
		})

		Convey("When an item id is missing", func() {
			path := writeFile(t, "catalog.json", `[{"genre": "rock"}]`)

			_, err := dataset.NewCatalogFile(path).Catalog(ctx)
			So(errors.Is(err, dataset.ErrDecodeDataset), ShouldBeTrue)
		})

		Convey("When the file does not exist", func() {
			_, err := dataset.NewCatalogFile("/missing/catalog.json").Catalog(ctx)
			So(errors.Is(err, dataset.ErrOpenDataset), ShouldBeTrue)
		})
	})
}
