package tutorial_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/domain/tutorial"
	"github.com/frothlab/froth/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

func seedTutorial(t *testing.T, store docstore.Store, title string, average, stdev float64) {
	t.Helper()
	tv := model.TutorialVideo{Title: title, FPS: 30, Average: average, Stdev: stdev}
	doc, err := json.Marshal(&tv)
	if err != nil {
		t.Fatalf("marshal tutorial: %v", err)
	}
	if _, err := store.Put(context.Background(), string(model.BucketTutorial), title, doc, 0); err != nil {
		t.Fatalf("seed tutorial: %v", err)
	}
}

func seedTrainee(t *testing.T, store docstore.Store, u model.User) {
	t.Helper()
	doc, err := json.Marshal(&u)
	if err != nil {
		t.Fatalf("marshal trainee: %v", err)
	}
	if _, err := store.Put(context.Background(), model.CollectionUsers, u.UID, doc, 0); err != nil {
		t.Fatalf("seed trainee: %v", err)
	}
}

func loadTrainee(t *testing.T, store docstore.Store, uid string) model.User {
	t.Helper()
	raw, _, err := store.Get(context.Background(), model.CollectionUsers, uid)
	if err != nil {
		t.Fatalf("load trainee: %v", err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("decode trainee: %v", err)
	}
	return u
}

func TestGateSubmit(t *testing.T) {
	convey.Convey("Given a tutorial video with average 5 and stdev 1", t, func() {
		ctx := context.Background()
		store := docstore.NewMemStore()
		defer func() { _ = store.Close() }()
		gate := tutorial.New(store)

		seedTutorial(t, store, "tut-1", 5, 1)
		seedTrainee(t, store, model.User{UID: "trainee", Role: model.RoleRater})

		convey.Convey("When submitting 6.9", func() {
			res, err := gate.Submit(ctx, "trainee", "tut-1", 6.9)

			convey.Convey("Then it is in-band and recorded as valid", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Valid, convey.ShouldBeTrue)
				convey.So(res.ValidCount, convey.ShouldEqual, 1)
				convey.So(res.Completed, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When submitting 8.1", func() {
			res, err := gate.Submit(ctx, "trainee", "tut-1", 8.1)

			convey.Convey("Then it is out-of-band but still recorded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Valid, convey.ShouldBeFalse)
				convey.So(res.ValidCount, convey.ShouldEqual, 0)

				u := loadTrainee(t, store, "trainee")
				convey.So(u.TutorialRatings, convey.ShouldHaveLength, 1)
				convey.So(u.TutorialRatings[0].Valid, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the fourth valid submission lands", func() {
			var last tutorial.Result
			for i := 0; i < tutorial.RequiredValid; i++ {
				var err error
				seedTutorialN(t, store, i)
				last, err = gate.Submit(ctx, "trainee", fmt.Sprintf("tut-n-%d", i), 5)
				convey.So(err, convey.ShouldBeNil)
			}

			convey.Convey("Then the trainee completes the tutorial", func() {
				convey.So(last.Valid, convey.ShouldBeTrue)
				convey.So(last.ValidCount, convey.ShouldEqual, tutorial.RequiredValid)
				convey.So(last.Completed, convey.ShouldBeTrue)
				convey.So(loadTrainee(t, store, "trainee").CompletedTutorial, convey.ShouldBeTrue)
			})

			convey.Convey("And a later out-of-band submission does not revoke it", func() {
				res, err := gate.Submit(ctx, "trainee", "tut-1", 100)
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Valid, convey.ShouldBeFalse)
				convey.So(res.Completed, convey.ShouldBeTrue)
				convey.So(loadTrainee(t, store, "trainee").CompletedTutorial, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a trainee at the retry cap re-submits for an attempted video", func() {
			history := make([]model.TutorialRating, tutorial.RetryCap)
			for i := range history {
				history[i] = model.TutorialRating{Video: "tut-1", Score: 100, Valid: false}
			}
			seedTrainee(t, store, model.User{UID: "stuck", Role: model.RoleRater, TutorialRatings: history})

			_, err := gate.Submit(ctx, "stuck", "tut-1", 5)

			convey.Convey("Then the submission is rejected as a duplicate", func() {
				convey.So(err, convey.ShouldWrap, tutorial.ErrDuplicateSubmission)
				convey.So(loadTrainee(t, store, "stuck").TutorialRatings, convey.ShouldHaveLength, tutorial.RetryCap)
			})
		})

		convey.Convey("When a trainee at the retry cap tries a fresh video", func() {
			history := make([]model.TutorialRating, tutorial.RetryCap)
			for i := range history {
				history[i] = model.TutorialRating{Video: "tut-1", Score: 100, Valid: false}
			}
			seedTrainee(t, store, model.User{UID: "stuck", Role: model.RoleRater, TutorialRatings: history})
			seedTutorial(t, store, "tut-2", 3, 0.5)

			res, err := gate.Submit(ctx, "stuck", "tut-2", 3.2)

			convey.Convey("Then the submission is still allowed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Valid, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the band would dip below zero", func() {
			seedTutorial(t, store, "tut-low", 0.5, 1)
			res, err := gate.Submit(ctx, "trainee", "tut-low", 0)

			convey.Convey("Then zero is still in-band", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Valid, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the tutorial video does not exist", func() {
			_, err := gate.Submit(ctx, "trainee", "ghost", 5)

			convey.Convey("Then it reports an unknown tutorial", func() {
				convey.So(err, convey.ShouldWrap, tutorial.ErrUnknownTutorial)
			})
		})

		convey.Convey("When the trainee does not exist", func() {
			_, err := gate.Submit(ctx, "ghost", "tut-1", 5)

			convey.Convey("Then it reports an unknown trainee", func() {
				convey.So(err, convey.ShouldWrap, tutorial.ErrUnknownTrainee)
			})
		})
	})
}

func seedTutorialN(t *testing.T, store docstore.Store, i int) {
	t.Helper()
	seedTutorial(t, store, fmt.Sprintf("tut-n-%d", i), 5, 1)
}
