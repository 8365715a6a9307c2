package inflight_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/frothlab/froth/internal/domain/inflight"
)

func TestTracker(t *testing.T) {
	convey.Convey("Given an inflight tracker", t, func() {
		ctx := context.Background()
		tr := inflight.New()

		convey.Convey("When a title is claimed", func() {
			first := tr.Begin(ctx, "vid-1")
			second := tr.Begin(ctx, "vid-1")

			convey.Convey("Then only the first claim succeeds", func() {
				convey.So(first, convey.ShouldBeTrue)
				convey.So(second, convey.ShouldBeFalse)
				convey.So(tr.Size(), convey.ShouldEqual, 1)
			})

			convey.Convey("And releasing it allows a fresh claim", func() {
				tr.End(ctx, "vid-1")
				convey.So(tr.Size(), convey.ShouldEqual, 0)
				convey.So(tr.Begin(ctx, "vid-1"), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When releasing an unclaimed title", func() {
			tr.End(ctx, "never-claimed")

			convey.Convey("Then nothing happens", func() {
				convey.So(tr.Size(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When distinct titles are claimed", func() {
			convey.So(tr.Begin(ctx, "vid-1"), convey.ShouldBeTrue)
			convey.So(tr.Begin(ctx, "vid-2"), convey.ShouldBeTrue)

			convey.Convey("Then they do not collide", func() {
				convey.So(tr.Size(), convey.ShouldEqual, 2)
			})
		})
	})

	convey.Convey("Given a bounded tracker at capacity", t, func() {
		ctx := context.Background()
		tr := inflight.New(inflight.WithMaxSize(2))
		convey.So(tr.Begin(ctx, "vid-1"), convey.ShouldBeTrue)
		convey.So(tr.Begin(ctx, "vid-2"), convey.ShouldBeTrue)

		convey.Convey("When claiming a third title", func() {
			ok := tr.Begin(ctx, "vid-3")

			convey.Convey("Then the claim is declined", func() {
				convey.So(ok, convey.ShouldBeFalse)
				convey.So(tr.Size(), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a slot frees up", func() {
			tr.End(ctx, "vid-1")

			convey.Convey("Then a new claim succeeds", func() {
				convey.So(tr.Begin(ctx, "vid-3"), convey.ShouldBeTrue)
			})
		})
	})
}

func TestTrackerConcurrent(t *testing.T) {
	convey.Convey("Given many goroutines racing for the same title", t, func() {
		ctx := context.Background()
		tr := inflight.New()

		const racers = 50
		var wg sync.WaitGroup
		wins := make(chan string, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if tr.Begin(ctx, "contested") {
					wins <- fmt.Sprintf("racer-%d", i)
				}
			}(i)
		}
		wg.Wait()
		close(wins)

		convey.Convey("Then exactly one goroutine wins the claim", func() {
			count := 0
			for range wins {
				count++
			}
			convey.So(count, convey.ShouldEqual, 1)
			convey.So(tr.Size(), convey.ShouldEqual, 1)
		})
	})
}
