package docstore_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/frothlab/froth/internal/adapters/docstore"
	. "github.com/smartystreets/goconvey/convey"
)

func doc(v any) docstore.Document {
	b, _ := json.Marshal(v)
	return b
}

func TestMemStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s := docstore.NewMemStore()

		Convey("When getting a missing document", func() {
			_, _, err := s.Get(ctx, "videos", "nope")

			Convey("Then it reports not found", func() {
				So(err, ShouldEqual, docstore.ErrNotFound)
			})
		})

		Convey("When creating a document with revision zero", func() {
			rev, err := s.Put(ctx, "videos", "v1", doc(map[string]string{"title": "v1"}), 0)

			Convey("Then it gets revision one", func() {
				So(err, ShouldBeNil)
				So(rev, ShouldEqual, docstore.Revision(1))
			})

			Convey("And creating it again with revision zero conflicts", func() {
				_, err := s.Put(ctx, "videos", "v1", doc(map[string]string{"title": "v1"}), 0)
				So(err, ShouldEqual, docstore.ErrRevisionMismatch)
			})

			Convey("And updating with the observed revision succeeds", func() {
				next, err := s.Put(ctx, "videos", "v1", doc(map[string]string{"title": "v1b"}), rev)
				So(err, ShouldBeNil)
				So(next, ShouldEqual, docstore.Revision(2))
			})

			Convey("And updating with a stale revision conflicts", func() {
				_, err := s.Put(ctx, "videos", "v1", doc(map[string]string{"title": "v1c"}), rev+5)
				So(err, ShouldEqual, docstore.ErrRevisionMismatch)
			})

			Convey("And deleting it unconditionally removes the key", func() {
				So(s.Delete(ctx, "videos", "v1", 0), ShouldBeNil)
				_, _, err := s.Get(ctx, "videos", "v1")
				So(err, ShouldEqual, docstore.ErrNotFound)
				So(s.Delete(ctx, "videos", "v1", 0), ShouldEqual, docstore.ErrNotFound)
			})

			Convey("And a revision-guarded delete only removes the observed revision", func() {
				So(s.Delete(ctx, "videos", "v1", rev+5), ShouldEqual, docstore.ErrRevisionMismatch)
				_, _, err := s.Get(ctx, "videos", "v1")
				So(err, ShouldBeNil)
				So(s.Delete(ctx, "videos", "v1", rev), ShouldBeNil)
				_, _, err = s.Get(ctx, "videos", "v1")
				So(err, ShouldEqual, docstore.ErrNotFound)
			})
		})

		Convey("When two writers race a compare-and-swap", func() {
			_, err := s.Put(ctx, "videos", "v1", doc(map[string]int{"n": 0}), 0)
			So(err, ShouldBeNil)
			_, rev, err := s.Get(ctx, "videos", "v1")
			So(err, ShouldBeNil)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = s.Put(ctx, "videos", "v1", doc(map[string]int{"n": i + 1}), rev)
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				wins := 0
				for _, e := range errs {
					if e == nil {
						wins++
					}
				}
				So(wins, ShouldEqual, 1)
			})
		})

		Convey("When incrementing counters", func() {
			n, err := s.Increment(ctx, "counters", "incomplete-videos", "count", 1)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			n, err = s.Increment(ctx, "counters", "incomplete-videos", "count", 2)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)

			n, err = s.Increment(ctx, "counters", "incomplete-videos", "count", -3)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("When listing a populated collection", func() {
			for _, k := range []string{"c", "a", "b", "d"} {
				_, err := s.Put(ctx, "videos", k, doc(map[string]string{"title": k}), 0)
				So(err, ShouldBeNil)
			}

			Convey("Then documents come back in key order with offset and limit", func() {
				docs, err := s.List(ctx, "videos", 1, 2)
				So(err, ShouldBeNil)
				So(docs, ShouldHaveLength, 2)

				var first map[string]string
				So(json.Unmarshal(docs[0], &first), ShouldBeNil)
				So(first["title"], ShouldEqual, "b")
			})

			Convey("And a limit below one is rejected", func() {
				_, err := s.List(ctx, "videos", 0, 0)
				So(err, ShouldEqual, docstore.ErrInvalidLimit)
			})

			Convey("And count reflects the collection size", func() {
				n, err := s.Count(ctx, "videos")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 4)
			})
		})
	})
}
