package score_test

import (
	"testing"

	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/domain/score"
	. "github.com/smartystreets/goconvey/convey"
)

func TestExtract(t *testing.T) {
	Convey("Given regular per-frame annotations", t, func() {
		Convey("When every frame has bubbles", func() {
			marks := []model.Mark{
				{Frame: 0, X: 10, Y: 12},
				{Frame: 0, X: 40, Y: 8},
				{Frame: 1, X: 22, Y: 30},
				{Frame: 2, X: 5, Y: 5},
			}

			Convey("Then the density is marks over distinct frames", func() {
				s, err := score.Extract(marks)
				So(err, ShouldBeNil)
				So(s.IsSentinel(), ShouldBeFalse)
				So(s.Density, ShouldAlmostEqual, 4.0/3.0)
				So(s.Value(), ShouldAlmostEqual, 4.0/3.0)
			})
		})

		Convey("When some frames are explicitly empty", func() {
			marks := []model.Mark{
				{Frame: 0, X: 10, Y: 12},
				{Frame: 1, X: -2, Y: -2},
				{Frame: 2, X: 7, Y: 9},
				{Frame: 3, X: -2, Y: -2},
			}

			Convey("Then empty marks are excluded from the numerator", func() {
				s, err := score.Extract(marks)
				So(err, ShouldBeNil)
				// (4 marks - 2 empties) / 4 frames
				So(s.Density, ShouldAlmostEqual, 0.5)
			})
		})

		Convey("When the mark list is empty", func() {
			Convey("Then extraction fails with a malformed rating error", func() {
				_, err := score.Extract(nil)
				So(err, ShouldEqual, score.ErrMalformedRating)
			})
		})
	})

	Convey("Given single-mark categorical judgments", t, func() {
		cases := map[score.Sentinel]model.Mark{
			score.SentinelWashOut:    {Frame: -1, X: -1, Y: -1},
			score.SentinelNoBubbles:  {Frame: -1, X: -2, Y: -2},
			score.SentinelBadQuality: {Frame: -1, X: -3, Y: -3},
		}

		for want, mark := range cases {
			Convey("When the mark is "+want.String(), func() {
				s, err := score.Extract([]model.Mark{mark})

				Convey("Then the matching sentinel is returned", func() {
					So(err, ShouldBeNil)
					So(s.IsSentinel(), ShouldBeTrue)
					So(s.Sentinel, ShouldEqual, want)
					So(s.Value(), ShouldEqual, float64(want))
				})
			})
		}

		Convey("When the reserved frame carries an unknown coordinate pair", func() {
			s, err := score.Extract([]model.Mark{{Frame: -1, X: 4, Y: 4}})

			Convey("Then it falls through to the numeric path", func() {
				So(err, ShouldBeNil)
				So(s.IsSentinel(), ShouldBeFalse)
				So(s.Density, ShouldEqual, 1.0)
			})
		})

		Convey("When a sentinel pair appears among other marks", func() {
			marks := []model.Mark{
				{Frame: -1, X: -1, Y: -1},
				{Frame: 0, X: 3, Y: 3},
			}
			s, err := score.Extract(marks)

			Convey("Then it is not treated as categorical", func() {
				So(err, ShouldBeNil)
				So(s.IsSentinel(), ShouldBeFalse)
				// 2 marks across frames {-1, 0}
				So(s.Density, ShouldEqual, 1.0)
			})
		})
	})
}
