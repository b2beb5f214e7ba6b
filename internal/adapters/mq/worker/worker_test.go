package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/encore/internal/adapters/mq/queue"
	"github.com/okian/encore/internal/adapters/mq/worker"
	. "github.com/smartystreets/goconvey/convey"
)

// recordingApplier captures applied updates grouped by (user, item).
type recordingApplier struct {
	mu      sync.Mutex
	applied map[string][]float64
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{applied: make(map[string][]float64)}
}

func (a *recordingApplier) Apply(_ context.Context, userID, itemID string, rating float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := userID + "|" + itemID
	a.applied[key] = append(a.applied[key], rating)
	return nil
}

func (a *recordingApplier) ratings(userID, itemID string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.applied[userID+"|"+itemID]...)
}

func (a *recordingApplier) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, v := range a.applied {
		n += len(v)
	}
	return n
}

type failingApplier struct {
	mu    sync.Mutex
	calls int
}

func (a *failingApplier) Apply(context.Context, string, string, float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return fmt.Errorf("boom")
}

func TestPoolOrdering(t *testing.T) {
	Convey("Given a running pool with several shards", t, func() {
		ctx := context.Background()
		applier := newRecordingApplier()
		pool := worker.NewPool(4, applier)
		pool.Start(ctx)

		Convey("When submitting a rating sequence for one pair", func() {
			ratings := []float64{0.6, 1.0, 0.2, 0.8, 0.0}
			for i, r := range ratings {
				ok := pool.Submit(ctx, queue.Update{
					EventID: fmt.Sprintf("e%d", i),
					UserID:  "alice",
					ItemID:  "song-1",
					Rating:  r,
				})
				So(ok, ShouldBeTrue)
			}
			pool.Stop()

			Convey("Then they apply in submission order", func() {
				So(applier.ratings("alice", "song-1"), ShouldResemble, ratings)
			})
		})

		Convey("When submitting updates for many pairs", func() {
			for u := 0; u < 5; u++ {
				for i := 0; i < 5; i++ {
					ok := pool.Submit(ctx, queue.Update{
						UserID: fmt.Sprintf("user-%d", u),
						ItemID: fmt.Sprintf("item-%d", i),
						Rating: 0.5,
					})
					So(ok, ShouldBeTrue)
				}
			}
			pool.Stop()

			Convey("Then every update is applied exactly once", func() {
				So(applier.total(), ShouldEqual, 25)
			})
		})
	})
}

func TestPoolBackpressure(t *testing.T) {
	Convey("Given an unstarted pool with tiny shard queues", t, func() {
		ctx := context.Background()
		applier := newRecordingApplier()
		pool := worker.NewPool(1, applier, worker.WithShardCapacity(2))

		Convey("When submitting beyond capacity", func() {
			ok1 := pool.Submit(ctx, queue.Update{UserID: "u", ItemID: "i", Rating: 0.1})
			ok2 := pool.Submit(ctx, queue.Update{UserID: "u", ItemID: "i", Rating: 0.2})
			ok3 := pool.Submit(ctx, queue.Update{UserID: "u", ItemID: "i", Rating: 0.3})

			Convey("Then the overflow submit reports the drop", func() {
				So(ok1, ShouldBeTrue)
				So(ok2, ShouldBeTrue)
				So(ok3, ShouldBeFalse)
				So(pool.Pending(ctx), ShouldEqual, 2)
			})
		})
	})
}

func TestPoolErrorHandling(t *testing.T) {
	Convey("Given a pool whose applier always fails", t, func() {
		ctx := context.Background()
		applier := &failingApplier{}
		pool := worker.NewPool(2, applier)
		pool.Start(ctx)

		Convey("When submitting updates", func() {
			for i := 0; i < 4; i++ {
				So(pool.Submit(ctx, queue.Update{
					UserID: fmt.Sprintf("u%d", i),
					ItemID: "song",
					Rating: 0.5,
				}), ShouldBeTrue)
			}
			pool.Stop()

			Convey("Then failures are swallowed and the pool keeps draining", func() {
				applier.mu.Lock()
				calls := applier.calls
				applier.mu.Unlock()
				So(calls, ShouldEqual, 4)
			})
		})
	})
}

func TestPoolStop(t *testing.T) {
	Convey("Given a running pool", t, func() {
		ctx := context.Background()
		applier := newRecordingApplier()
		pool := worker.NewPool(2, applier)
		pool.Start(ctx)

		Convey("When stopping with queued work", func() {
			for i := 0; i < 10; i++ {
				_ = pool.Submit(ctx, queue.Update{
					UserID: "u",
					ItemID: fmt.Sprintf("i%d", i),
					Rating: 0.5,
				})
			}
			start := time.Now()
			pool.Stop()

			Convey("Then it drains before returning", func() {
				So(applier.total(), ShouldEqual, 10)
				So(time.Since(start), ShouldBeLessThan, 5*time.Second)
			})

			Convey("Then submits after stop are rejected", func() {
				So(pool.Submit(ctx, queue.Update{UserID: "u", ItemID: "late"}), ShouldBeFalse)
			})
		})
	})
}
