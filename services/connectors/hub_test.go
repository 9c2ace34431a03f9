package connectors_test

import (
	"context"
	"sync"
	"time"

	"github.com/mudler/roomkeeper/core/inactivity"
	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/services/connectors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Hub", func() {
	var (
		ctx      context.Context
		activity *rooms.ActivityTracker
		irc      *fakeConnector
		matrix   *fakeConnector
		hub      *connectors.Hub
	)

	BeforeEach(func() {
		ctx = context.Background()
		activity = rooms.NewActivityTracker()
		irc = newFakeConnector("irc", "#go", "#chat")
		matrix = newFakeConnector("matrix", "!abc:example.org")

		var err error
		hub, err = connectors.NewHub(activity, irc, matrix)
		Expect(err).ToNot(HaveOccurred())
		Expect(hub.Start(ctx)).To(Succeed())
	})

	It("rejects two connectors for the same network", func() {
		_, err := connectors.NewHub(activity, irc, newFakeConnector("irc"))
		Expect(err).To(HaveOccurred())
	})

	It("qualifies rooms with their network", func() {
		Expect(connectors.Qualify("matrix", "!abc:example.org")).To(Equal("matrix:!abc:example.org"))

		network, room, err := connectors.SplitRoom("matrix:!abc:example.org")
		Expect(err).ToNot(HaveOccurred())
		Expect(network).To(Equal("matrix"))
		Expect(room).To(Equal("!abc:example.org"))

		_, _, err = connectors.SplitRoom("#go")
		Expect(err).To(MatchError(connectors.ErrInvalidRoom))
	})

	Describe("as a room source", func() {
		It("lists the rooms of every network", func() {
			occupied, err := hub.OccupiedRooms(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(occupied).To(ConsistOf("irc:#go", "irc:#chat", "matrix:!abc:example.org"))
		})

		It("fails the whole listing when one network fails", func() {
			matrix.roomsErr = errNetwork
			_, err := hub.OccupiedRooms(ctx)
			Expect(err).To(MatchError(errNetwork))
		})

		It("reports zero activity for rooms never heard from", func() {
			latest, err := hub.LatestActivity(ctx, "irc:#go")
			Expect(err).ToNot(HaveOccurred())
			Expect(latest.IsZero()).To(BeTrue())
		})

		It("starts the silence clock of rooms listed without any event", func() {
			_, err := hub.OccupiedRooms(ctx)
			Expect(err).ToNot(HaveOccurred())

			latest, err := hub.LatestActivity(ctx, "irc:#go")
			Expect(err).ToNot(HaveOccurred())
			Expect(latest).To(BeTemporally("~", time.Now(), time.Second))
		})

		It("keeps activity already observed when listing", func() {
			at := time.Now().Add(-10 * time.Hour)
			activity.Touch("irc:#go", at)

			_, err := hub.OccupiedRooms(ctx)
			Expect(err).ToNot(HaveOccurred())
			latest, _ := activity.Latest("irc:#go")
			Expect(latest.Equal(at)).To(BeTrue())
		})

		Context("when the network keeps history", func() {
			var slack *historyConnector

			BeforeEach(func() {
				slack = &historyConnector{
					fakeConnector: newFakeConnector("slack", "C123", "C456"),
					last:          map[string]time.Time{"C123": time.Now().Add(-100 * time.Hour)},
				}
				var err error
				hub, err = connectors.NewHub(activity, slack)
				Expect(err).ToNot(HaveOccurred())
			})

			It("measures silence from the last message before startup", func() {
				_, err := hub.OccupiedRooms(ctx)
				Expect(err).ToNot(HaveOccurred())

				latest, _ := activity.Latest("slack:C123")
				Expect(latest).To(BeTemporally("~", time.Now().Add(-100*time.Hour), time.Second))
				latest, _ = activity.Latest("slack:C456")
				Expect(latest).To(BeTemporally("~", time.Now(), time.Second))
			})

			It("reads history only once per room", func() {
				for range 3 {
					_, err := hub.OccupiedRooms(ctx)
					Expect(err).ToNot(HaveOccurred())
				}
				Expect(slack.reads.Load()).To(BeEquivalentTo(2))
			})

			It("falls back to now when history cannot be read", func() {
				slack.historyErr = errNetwork
				_, err := hub.OccupiedRooms(ctx)
				Expect(err).ToNot(HaveOccurred())

				latest, _ := activity.Latest("slack:C123")
				Expect(latest).To(BeTemporally("~", time.Now(), time.Second))
			})

			It("lets a room silent since before startup reach its threshold", func() {
				left := &leaver{hub: hub}
				sched, err := inactivity.NewScheduler(hub)
				Expect(err).ToNot(HaveOccurred())
				Expect(sched.Register(left)).To(Succeed())

				summary := sched.Tick(ctx)
				sched.WaitDispatches()
				Expect(summary.Dispatched).To(Equal(1))
				Expect(slack.Left()).To(Equal([]string{"C123"}))
			})
		})

		It("dispatches in a room that never saw an event once the threshold passes", func() {
			clock := time.Now()
			sched, err := inactivity.NewScheduler(hub, inactivity.WithClock(func() time.Time { return clock }))
			Expect(err).ToNot(HaveOccurred())
			Expect(sched.Register(&leaver{hub: hub})).To(Succeed())

			summary := sched.Tick(ctx)
			Expect(summary.Dispatched).To(Equal(0))
			Expect(summary.Skipped).To(Equal(0))

			clock = clock.Add(100 * time.Hour)
			summary = sched.Tick(ctx)
			sched.WaitDispatches()
			Expect(summary.Dispatched).To(Equal(3))
			Expect(irc.Left()).To(ConsistOf("#go", "#chat"))
			Expect(matrix.Left()).To(ConsistOf("!abc:example.org"))
		})

		It("rejects rooms of unknown networks", func() {
			_, err := hub.LatestActivity(ctx, "xmpp:room")
			Expect(err).To(MatchError(connectors.ErrUnknownNetwork))
		})

		It("uses message timestamps as activity", func() {
			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			hub.OnMessage(connectors.Message{Network: "irc", Room: "#go", Sender: "alice", Text: "hi", At: at})

			latest, err := hub.LatestActivity(ctx, "irc:#go")
			Expect(err).ToNot(HaveOccurred())
			Expect(latest.Equal(at)).To(BeTrue())
		})

		It("ignores direct messages for activity", func() {
			hub.OnMessage(connectors.Message{Network: "irc", Room: "alice", Text: "hi", At: time.Now(), Direct: true})
			_, known := activity.Latest("irc:alice")
			Expect(known).To(BeFalse())
		})

		It("starts the silence clock when a room is joined", func() {
			hub.OnJoin("irc", "#new")
			latest, known := activity.Latest("irc:#new")
			Expect(known).To(BeTrue())
			Expect(latest).To(BeTemporally("~", time.Now(), time.Second))
		})

		It("keeps older activity when a known room is joined again", func() {
			at := time.Now().Add(-time.Hour)
			activity.Touch("irc:#go", at)
			hub.OnJoin("irc", "#go")
			latest, _ := activity.Latest("irc:#go")
			Expect(latest.Equal(at)).To(BeTrue())
		})

		It("forgets rooms that were left", func() {
			activity.Touch("irc:#go", time.Now())
			hub.OnLeave("irc", "#go")
			_, known := activity.Latest("irc:#go")
			Expect(known).To(BeFalse())
		})
	})

	Describe("as a transport", func() {
		It("routes posts to the right network without ending the silence", func() {
			before := time.Now().Add(-7 * time.Hour)
			activity.Touch("matrix:!abc:example.org", before)

			Expect(hub.PostMessage(ctx, "matrix:!abc:example.org", "anyone here?")).To(Succeed())
			Expect(matrix.Sent()).To(Equal([]sent{{room: "!abc:example.org", text: "anyone here?"}}))
			Expect(irc.Sent()).To(BeEmpty())

			latest, _ := activity.Latest("matrix:!abc:example.org")
			Expect(latest.Equal(before)).To(BeTrue())
		})

		It("ignores the echo of the agent's own messages", func() {
			before := time.Now().Add(-7 * time.Hour)
			activity.Touch("irc:#go", before)

			hub.OnMessage(connectors.Message{Network: "irc", Room: "#go", Text: "anyone here?", At: time.Now(), Self: true})
			latest, _ := activity.Latest("irc:#go")
			Expect(latest.Equal(before)).To(BeTrue())
		})

		It("returns connector errors", func() {
			irc.postErr = errNetwork
			Expect(hub.PostMessage(ctx, "irc:#go", "hello")).To(MatchError(errNetwork))
			Expect(hub.PostMessage(ctx, "xmpp:room", "hello")).To(MatchError(connectors.ErrUnknownNetwork))
		})

		It("leaves rooms and forgets their activity", func() {
			activity.Touch("irc:#chat", time.Now())

			Expect(hub.LeaveRoom(ctx, "irc:#chat")).To(Succeed())
			Expect(irc.Left()).To(Equal([]string{"#chat"}))
			_, known := activity.Latest("irc:#chat")
			Expect(known).To(BeFalse())

			occupied, err := hub.OccupiedRooms(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(occupied).ToNot(ContainElement("irc:#chat"))
		})

		It("keeps activity when leaving fails", func() {
			activity.Touch("irc:#chat", time.Now())
			irc.leaveErr = errNetwork

			Expect(hub.LeaveRoom(ctx, "irc:#chat")).To(MatchError(errNetwork))
			_, known := activity.Latest("irc:#chat")
			Expect(known).To(BeTrue())
		})

		It("replies to direct messages on the same network", func() {
			msg := connectors.Message{Network: "irc", Room: "alice", Direct: true}
			Expect(hub.Reply(ctx, msg, "pong")).To(Succeed())
			Expect(irc.Sent()).To(Equal([]sent{{room: "alice", text: "pong"}}))
			_, known := activity.Latest("irc:alice")
			Expect(known).To(BeFalse())
		})
	})

	Describe("message handlers", func() {
		It("receives messages from others but not the agent's own", func() {
			var (
				mu   sync.Mutex
				seen []string
			)
			hub.Handle(func(ctx context.Context, msg connectors.Message) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, msg.Text)
			})

			hub.OnMessage(connectors.Message{Network: "irc", Room: "#go", Text: "mine", Self: true})
			hub.OnMessage(connectors.Message{Network: "irc", Room: "#go", Text: "theirs"})

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return seen
			}).Should(Equal([]string{"theirs"}))
			Consistently(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return seen
			}, 100*time.Millisecond).Should(HaveLen(1))
		})
	})
})

// leaver leaves rooms silent for three days
type leaver struct {
	hub *connectors.Hub
}

func (l *leaver) Name() string { return "leave-room" }

func (l *leaver) Threshold(room string) (time.Duration, bool) {
	return 72 * time.Hour, true
}

func (l *leaver) Execute(ctx context.Context, room string) error {
	return l.hub.LeaveRoom(ctx, room)
}
