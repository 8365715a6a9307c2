package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	service "github.com/frothlab/froth/internal/app"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func newStartedService(t *testing.T) (*service.Service, docstore.Store) {
	t.Helper()
	store := docstore.NewMemStore()
	svc := service.New(
		service.WithStore(store),
		service.WithWorkerCount(1),
		service.WithQueueSize(64),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, store
}

func seedUser(t *testing.T, store docstore.Store, u model.User) {
	t.Helper()
	doc, err := json.Marshal(&u)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if _, err := store.Put(context.Background(), model.CollectionUsers, u.UID, doc, 0); err != nil {
		t.Fatalf("seed user %s: %v", u.UID, err)
	}
}

func seedCrew(t *testing.T, store docstore.Store) {
	t.Helper()
	seedUser(t, store, model.User{UID: "owner", Role: model.RoleOwner, CompletedTutorial: true})
	seedUser(t, store, model.User{UID: "admin", Role: model.RoleAdmin, CompletedTutorial: true})
	seedUser(t, store, model.User{UID: "assistant", Role: model.RoleAssistant, CompletedTutorial: true})
	for _, uid := range []string{"r1", "r2", "r3", "r4", "r5"} {
		seedUser(t, store, model.User{UID: uid, Role: model.RoleRater, CompletedTutorial: true})
	}
	seedUser(t, store, model.User{UID: "trainee", Role: model.RoleRater})
}

// densityMarks builds a plain annotation with one mark per frame, which
// collapses to a density of exactly 1 regardless of n.
func densityMarks(n int) []model.Mark {
	marks := make([]model.Mark, n)
	for i := range marks {
		marks[i] = model.Mark{Frame: i, X: 1, Y: 1}
	}
	return marks
}

// stackedMarks piles n marks onto a single frame so the annotation
// collapses to a density of exactly n.
func stackedMarks(n int) []model.Mark {
	marks := make([]model.Mark, n)
	for i := range marks {
		marks[i] = model.Mark{Frame: 0, X: float64(i + 1), Y: 1}
	}
	return marks
}

func sentinelMarks(x, y float64) []model.Mark {
	return []model.Mark{{Frame: -1, X: x, Y: y}}
}

func videoLocation(t *testing.T, store docstore.Store, title string) model.Bucket {
	t.Helper()
	raw, _, err := store.Get(context.Background(), model.CollectionVideos, title)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx model.VideoIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	return idx.Location
}

// waitForBucket polls until the index points at the wanted bucket, failing
// the test after two seconds.
func waitForBucket(t *testing.T, store docstore.Store, title string, want model.Bucket) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if videoLocation(t, store, title) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("video %s never reached %s (at %s)", title, want, videoLocation(t, store, title))
}

func loadUser(t *testing.T, store docstore.Store, uid string) model.User {
	t.Helper()
	raw, _, err := store.Get(context.Background(), model.CollectionUsers, uid)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return u
}

func TestVideoRegistration(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)

		Convey("An assistant can add a video", func() {
			So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)
			So(videoLocation(t, store, "vid-1"), ShouldEqual, model.BucketIncomplete)

			Convey("And the same title cannot be added twice", func() {
				err := svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30)
				So(err, ShouldWrap, service.ErrVideoExists)
			})
		})

		Convey("A plain rater cannot add videos", func() {
			err := svc.AddVideo(ctx, "r1", "vid-1", "https://v/1", 30)
			So(err, ShouldWrap, service.ErrPermissionDenied)
		})

		Convey("An assistant can add a tutorial video", func() {
			So(svc.AddTutorialVideo(ctx, "assistant", "tut-1", "https://v/t1", 30, 5, 1), ShouldBeNil)
			So(videoLocation(t, store, "tut-1"), ShouldEqual, model.BucketTutorial)
		})
	})
}

func TestSubmitRating(t *testing.T) {
	Convey("Given a started service with one incomplete video", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)

		Convey("A malformed rating is rejected before any state moves", func() {
			_, err := svc.SubmitRating(ctx, "r1", "vid-1", nil)
			So(err, ShouldNotBeNil)
			So(loadUser(t, store, "r1").VideosRated, ShouldBeEmpty)
		})

		Convey("An unqualified trainee is rejected", func() {
			_, err := svc.SubmitRating(ctx, "trainee", "vid-1", densityMarks(3))
			So(err, ShouldWrap, service.ErrNotQualified)
		})

		Convey("An unknown video is rejected", func() {
			_, err := svc.SubmitRating(ctx, "r1", "ghost", densityMarks(3))
			So(err, ShouldWrap, service.ErrUnknownVideo)
		})

		Convey("A valid submission is recorded", func() {
			res, err := svc.SubmitRating(ctx, "r1", "vid-1", densityMarks(3))
			So(err, ShouldBeNil)
			So(res.SubmissionID, ShouldNotBeEmpty)
			So(res.Raters, ShouldEqual, 1)
			So(res.Triggered, ShouldBeFalse)
			u := loadUser(t, store, "r1")
			So(u.HasRated("vid-1"), ShouldBeTrue)

			Convey("And the rater can replace it while the video is pending", func() {
				res2, err := svc.SubmitRating(ctx, "r1", "vid-1", densityMarks(4))
				So(err, ShouldBeNil)
				So(res2.Raters, ShouldEqual, 1)
			})
		})
	})
}

func TestConsensusFlow(t *testing.T) {
	Convey("Given three raters in tight agreement", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)

		for _, uid := range []string{"r1", "r2", "r3"} {
			_, err := svc.SubmitRating(ctx, uid, "vid-1", densityMarks(3))
			So(err, ShouldBeNil)
		}

		Convey("The video completes and the raters are credited", func() {
			waitForBucket(t, store, "vid-1", model.BucketComplete)
			for _, uid := range []string{"r1", "r2", "r3"} {
				u := loadUser(t, store, uid)
				So(u.UserScore, ShouldEqual, 10)
				So(u.Accepted, ShouldEqual, 1)
			}

			Convey("And a late rating is rejected as a duplicate or not rateable", func() {
				_, err := svc.SubmitRating(ctx, "r1", "vid-1", densityMarks(3))
				So(err, ShouldWrap, service.ErrDuplicateSubmission)

				_, err = svc.SubmitRating(ctx, "r4", "vid-1", densityMarks(3))
				So(err, ShouldWrap, service.ErrVideoNotRateable)
			})

			Convey("And an admin can reset it back to incomplete", func() {
				So(svc.ResetVideo(ctx, "admin", "vid-1"), ShouldBeNil)
				So(videoLocation(t, store, "vid-1"), ShouldEqual, model.BucketIncomplete)
			})
		})
	})

	Convey("Given three raters agreeing the video has no bubbles", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-2", "https://v/2", 30), ShouldBeNil)

		for _, uid := range []string{"r1", "r2", "r3"} {
			_, err := svc.SubmitRating(ctx, uid, "vid-2", sentinelMarks(-2, -2))
			So(err, ShouldBeNil)
		}

		Convey("The video is marked unusable with everyone credited", func() {
			waitForBucket(t, store, "vid-2", model.BucketUnusable)
			So(loadUser(t, store, "r1").UserScore, ShouldEqual, 10)
		})
	})
}

func TestOutlierDecision(t *testing.T) {
	Convey("Given a video seeded with three agreeing scores and one outlier", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)

		// Seed the four ratings directly so the evaluation sees them all
		// at once, without the quorum trigger racing the fourth rater.
		raw, rev, err := store.Get(ctx, string(model.BucketIncomplete), "vid-1")
		So(err, ShouldBeNil)
		var v model.Video
		So(json.Unmarshal(raw, &v), ShouldBeNil)
		v.Raters = []string{"r1", "r2", "r3", "r4"}
		v.Ratings = map[string]model.Rating{
			"r1": {Marks: stackedMarks(10), SubmittedAt: time.Now().UTC()},
			"r2": {Marks: stackedMarks(11), SubmittedAt: time.Now().UTC()},
			"r3": {Marks: stackedMarks(9), SubmittedAt: time.Now().UTC()},
			"r4": {Marks: stackedMarks(500), SubmittedAt: time.Now().UTC()},
		}
		doc, err := json.Marshal(&v)
		So(err, ShouldBeNil)
		_, err = store.Put(ctx, string(model.BucketIncomplete), "vid-1", doc, rev)
		So(err, ShouldBeNil)

		Convey("When evaluating and applying synchronously", func() {
			ev, err := svc.EvaluateVideo(ctx, "vid-1")
			So(err, ShouldBeNil)
			So(ev.Decision.Rejected, ShouldResemble, []string{"r4"})
			So(svc.ApplyDecision(ctx, ev), ShouldBeNil)

			Convey("Then the outlier is penalized and the rest credited", func() {
				So(videoLocation(t, store, "vid-1"), ShouldEqual, model.BucketComplete)
				So(loadUser(t, store, "r1").UserScore, ShouldEqual, 10)

				r4 := loadUser(t, store, "r4")
				So(r4.UserScore, ShouldEqual, 0)
				So(r4.Outliers, ShouldEqual, 1)
				So(r4.RejectedRatings, ShouldHaveLength, 1)
				So(r4.RejectedRatings[0].Video, ShouldEqual, "vid-1")
			})

			Convey("And re-applying the same decision is a no-op", func() {
				So(svc.ApplyDecision(ctx, ev), ShouldBeNil)
				So(loadUser(t, store, "r1").UserScore, ShouldEqual, 10)
				So(loadUser(t, store, "r1").Accepted, ShouldEqual, 1)
			})
		})
	})
}

func TestTutorialFlow(t *testing.T) {
	Convey("Given a trainee and four tutorial videos", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)

		titles := []string{"tut-1", "tut-2", "tut-3", "tut-4"}
		for _, title := range titles {
			// Average 1 with stdev 0.1: a 10-mark, 10-frame annotation
			// collapses to exactly density 1.
			So(svc.AddTutorialVideo(ctx, "assistant", title, "https://v/"+title, 30, 1, 0.1), ShouldBeNil)
		}

		Convey("When the trainee lands four in-band submissions", func() {
			for i, title := range titles {
				res, err := svc.SubmitTutorialRating(ctx, "trainee", title, densityMarks(10))
				So(err, ShouldBeNil)
				So(res.Valid, ShouldBeTrue)
				So(res.ValidCount, ShouldEqual, i+1)
			}

			Convey("Then the trainee is promoted and may rate production videos", func() {
				So(loadUser(t, store, "trainee").CompletedTutorial, ShouldBeTrue)

				So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)
				_, err := svc.SubmitRating(ctx, "trainee", "vid-1", densityMarks(3))
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestReviewVideo(t *testing.T) {
	Convey("Given two incomplete videos, one already rated by r1", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)
		So(svc.AddVideo(ctx, "assistant", "vid-2", "https://v/2", 30), ShouldBeNil)
		_, err := svc.SubmitRating(ctx, "r1", "vid-1", densityMarks(3))
		So(err, ShouldBeNil)

		Convey("The review feed offers r1 only the unrated video", func() {
			v, err := svc.ReviewVideo(ctx, "r1")
			So(err, ShouldBeNil)
			So(v.Title, ShouldEqual, "vid-2")
		})

		Convey("A rater who rated everything gets nothing", func() {
			_, err := svc.SubmitRating(ctx, "r1", "vid-2", densityMarks(3))
			So(err, ShouldBeNil)
			_, err = svc.ReviewVideo(ctx, "r1")
			So(err, ShouldWrap, service.ErrNoVideoAvailable)
		})

		Convey("An unqualified trainee gets nothing", func() {
			_, err := svc.ReviewVideo(ctx, "trainee")
			So(err, ShouldWrap, service.ErrNotQualified)
		})
	})
}

func TestRolesAndUsers(t *testing.T) {
	Convey("Given the seeded crew", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)

		Convey("An admin can promote a rater to assistant", func() {
			So(svc.GrantRole(ctx, "admin", "r1", model.RoleAssistant), ShouldBeNil)
			So(loadUser(t, store, "r1").Role, ShouldEqual, model.RoleAssistant)
		})

		Convey("Only the owner can mint admins", func() {
			So(svc.GrantRole(ctx, "admin", "r1", model.RoleAdmin), ShouldWrap, service.ErrPermissionDenied)
			So(svc.GrantRole(ctx, "owner", "r1", model.RoleAdmin), ShouldBeNil)
		})

		Convey("The owner role is never grantable", func() {
			So(svc.GrantRole(ctx, "owner", "r1", model.RoleOwner), ShouldWrap, service.ErrInvalidRole)
		})

		Convey("Registering a user twice fails", func() {
			So(svc.RegisterUser(ctx, "fresh"), ShouldBeNil)
			So(svc.RegisterUser(ctx, "fresh"), ShouldWrap, service.ErrUserExists)
		})

		Convey("Deleting a rater strips their pending ratings", func() {
			So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)
			_, err := svc.SubmitRating(ctx, "r1", "vid-1", densityMarks(3))
			So(err, ShouldBeNil)

			So(svc.DeleteRater(ctx, "admin", "r1"), ShouldBeNil)

			raw, _, err := store.Get(ctx, string(model.BucketIncomplete), "vid-1")
			So(err, ShouldBeNil)
			var v model.Video
			So(json.Unmarshal(raw, &v), ShouldBeNil)
			So(v.Raters, ShouldBeEmpty)

			_, _, err = store.Get(ctx, model.CollectionUsers, "r1")
			So(err, ShouldWrap, docstore.ErrNotFound)
		})

		Convey("Deleting a rater also strips them from flagged videos", func() {
			flagged := model.Video{
				Title:  "vid-2",
				Status: model.BucketFlagged,
				FPS:    30,
				URL:    "https://v/2",
				Raters: []string{"r1", "r2"},
				Ratings: map[string]model.Rating{
					"r1": {Marks: densityMarks(3), SubmittedAt: time.Now().UTC()},
					"r2": {Marks: densityMarks(4), SubmittedAt: time.Now().UTC()},
				},
			}
			doc, err := json.Marshal(&flagged)
			So(err, ShouldBeNil)
			_, err = store.Put(ctx, string(model.BucketFlagged), "vid-2", doc, 0)
			So(err, ShouldBeNil)

			So(svc.DeleteRater(ctx, "admin", "r1"), ShouldBeNil)

			raw, _, err := store.Get(ctx, string(model.BucketFlagged), "vid-2")
			So(err, ShouldBeNil)
			var v model.Video
			So(json.Unmarshal(raw, &v), ShouldBeNil)
			So(v.Raters, ShouldResemble, []string{"r2"})
			So(v.Ratings, ShouldNotContainKey, "r1")
			So(v.Ratings, ShouldContainKey, "r2")
		})
	})
}

func TestReevaluate(t *testing.T) {
	Convey("Given a flagged video", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)

		// Two numeric scores plus three split sentinel votes: no band can
		// form and no category reaches quorum, so five raters flag the
		// video for manual review.
		marks := [][]model.Mark{
			stackedMarks(1),
			stackedMarks(100),
			sentinelMarks(-1, -1),
			sentinelMarks(-2, -2),
			sentinelMarks(-3, -3),
		}
		for i, uid := range []string{"r1", "r2", "r3", "r4", "r5"} {
			raw, rev, err := store.Get(ctx, string(model.BucketIncomplete), "vid-1")
			So(err, ShouldBeNil)
			var v model.Video
			So(json.Unmarshal(raw, &v), ShouldBeNil)
			if v.Ratings == nil {
				v.Ratings = map[string]model.Rating{}
			}
			v.Raters = append(v.Raters, uid)
			v.Ratings[uid] = model.Rating{Marks: marks[i], SubmittedAt: time.Now().UTC()}
			doc, err := json.Marshal(&v)
			So(err, ShouldBeNil)
			_, err = store.Put(ctx, string(model.BucketIncomplete), "vid-1", doc, rev)
			So(err, ShouldBeNil)
		}
		ev, err := svc.EvaluateVideo(ctx, "vid-1")
		So(err, ShouldBeNil)
		So(svc.ApplyDecision(ctx, ev), ShouldBeNil)
		So(videoLocation(t, store, "vid-1"), ShouldEqual, model.BucketFlagged)

		Convey("Re-evaluation requires the assistant role", func() {
			So(svc.Reevaluate(ctx, "r1", "vid-1"), ShouldWrap, service.ErrPermissionDenied)
		})

		Convey("An assistant can queue a manual re-run", func() {
			So(svc.Reevaluate(ctx, "assistant", "vid-1"), ShouldBeNil)
		})

		Convey("A video that is not flagged is rejected", func() {
			So(svc.AddVideo(ctx, "assistant", "vid-2", "https://v/2", 30), ShouldBeNil)
			So(svc.Reevaluate(ctx, "assistant", "vid-2"), ShouldWrap, service.ErrNotFlagged)
		})
	})
}

func TestGetStats(t *testing.T) {
	Convey("Given a started service with some state", t, func() {
		ctx := context.Background()
		svc, store := newStartedService(t)
		seedCrew(t, store)
		So(svc.AddVideo(ctx, "assistant", "vid-1", "https://v/1", 30), ShouldBeNil)

		Convey("GetStats reports bucket and user counts", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			buckets, ok := stats["buckets"].(map[string]int)
			So(ok, ShouldBeTrue)
			So(buckets[string(model.BucketIncomplete)], ShouldEqual, 1)
			So(stats["users"], ShouldBeGreaterThan, 0)
		})
	})
}
