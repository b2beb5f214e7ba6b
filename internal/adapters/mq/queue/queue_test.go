package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/encore/internal/adapters/mq/queue"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a bounded queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))

		Convey("When enqueueing within capacity", func() {
			ok1 := q.Enqueue(ctx, queue.Update{EventID: "e1", UserID: "u", ItemID: "i1", Rating: 0.6})
			ok2 := q.Enqueue(ctx, queue.Update{EventID: "e2", UserID: "u", ItemID: "i2", Rating: 1.0})

			Convey("Then both are accepted", func() {
				So(ok1, ShouldBeTrue)
				So(ok2, ShouldBeTrue)
				So(q.Len(ctx), ShouldEqual, 2)
			})

			Convey("And a third is dropped without blocking", func() {
				ok3 := q.Enqueue(ctx, queue.Update{EventID: "e3"})
				So(ok3, ShouldBeFalse)
				So(q.Len(ctx), ShouldEqual, 2)
			})
		})

		Convey("When dequeuing", func() {
			_ = q.Enqueue(ctx, queue.Update{EventID: "e1", Rating: 0.2})
			_ = q.Enqueue(ctx, queue.Update{EventID: "e2", Rating: 0.8})
			_ = q.Close()

			var got []string
			for u := range q.Dequeue(ctx) {
				got = append(got, u.EventID)
			}

			Convey("Then updates drain in FIFO order and the channel closes", func() {
				So(got, ShouldResemble, []string{"e1", "e2"})
			})
		})

		Convey("When the queue is closed", func() {
			_ = q.Close()

			Convey("Then further enqueues fail", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, queue.Update{EventID: "late"}), ShouldBeFalse)
			})

			Convey("Then closing again is a no-op", func() {
				So(q.Close(), ShouldBeNil)
			})
		})

		Convey("When the enqueue context is already canceled and the queue is full", func() {
			_ = q.Enqueue(ctx, queue.Update{EventID: "e1"})
			_ = q.Enqueue(ctx, queue.Update{EventID: "e2"})

			canceled, cancel := context.WithCancel(ctx)
			cancel()
			time.Sleep(10 * time.Millisecond)

			So(q.Enqueue(canceled, queue.Update{EventID: "e3"}), ShouldBeFalse)
		})
	})
}
