package inactivity_test

import (
	"context"
	"errors"
	"time"

	"github.com/mudler/roomkeeper/core/inactivity"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"
)

var _ = Describe("Scheduler", func() {
	var (
		t0     time.Time
		clock  *fakeClock
		source *fakeSource
		rec    *recorder
		sched  *inactivity.Scheduler
		fill   *fakeBehavior
		leave  *fakeBehavior
	)

	tickAt := func(at time.Time) inactivity.TickSummary {
		clock.Set(at)
		summary := sched.Tick(context.Background())
		sched.WaitDispatches()
		return summary
	}

	BeforeEach(func() {
		t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		clock = &fakeClock{now: t0}
		source = newFakeSource()
		rec = &recorder{}

		fill = &fakeBehavior{name: "fill-silence", threshold: 6 * time.Hour, rec: rec}
		leave = &fakeBehavior{name: "leave-room", threshold: 72 * time.Hour, rec: rec}

		var err error
		sched, err = inactivity.NewScheduler(source,
			inactivity.WithClock(clock.Now),
			inactivity.WithDispatchTimeout(time.Second),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		sched.Stop()
		sched.WaitDispatches()
	})

	Describe("Registration", func() {
		It("rejects duplicate names", func() {
			Expect(sched.Register(fill)).To(Succeed())
			Expect(sched.Register(&fakeBehavior{name: "fill-silence", rec: rec})).To(MatchError(inactivity.ErrDuplicateBehavior))
		})

		It("rejects unnamed behaviors", func() {
			Expect(sched.Register(&fakeBehavior{rec: rec})).To(MatchError(inactivity.ErrInvalidBehavior))
			Expect(sched.Register(nil)).To(MatchError(inactivity.ErrInvalidBehavior))
		})

		It("keeps registration order", func() {
			Expect(sched.Register(fill)).To(Succeed())
			Expect(sched.Register(leave)).To(Succeed())
			names := []string{}
			for _, b := range sched.Behaviors() {
				names = append(names, b.Name())
			}
			Expect(names).To(Equal([]string{"fill-silence", "leave-room"}))
		})

		It("rejects invalid options", func() {
			_, err := inactivity.NewScheduler(source, inactivity.WithCadence("not a cadence"))
			Expect(err).To(HaveOccurred())
			_, err = inactivity.NewScheduler(source, inactivity.WithParallelism(0))
			Expect(err).To(HaveOccurred())
			_, err = inactivity.NewScheduler(source, inactivity.WithDispatchTimeout(0))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Fill-silence scenario", func() {
		BeforeEach(func() {
			Expect(sched.Register(fill)).To(Succeed())
			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)
		})

		It("fires exactly once per silence period", func() {
			tickAt(t0.Add(5*time.Hour + 59*time.Minute))
			Expect(rec.Entries()).To(BeEmpty())

			summary := tickAt(t0.Add(6*time.Hour + time.Minute))
			Expect(summary.Dispatched).To(Equal(1))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			tickAt(t0.Add(6*time.Hour + 2*time.Minute))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			message := t0.Add(6*time.Hour + 5*time.Minute)
			source.Message("irc:#go", message)

			tickAt(message.Add(5*time.Hour + 59*time.Minute))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			tickAt(message.Add(6 * time.Hour))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(2))
		})

		It("stays idempotent across many ticks without activity", func() {
			for i := range 20 {
				tickAt(t0.Add(7*time.Hour + time.Duration(i)*time.Minute))
			}
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))
		})

		It("logs a dispatch run", func() {
			tickAt(t0.Add(7 * time.Hour))

			runs := sched.Runs(10)
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].ID).NotTo(BeEmpty())
			Expect(runs[0].Room).To(Equal("irc:#go"))
			Expect(runs[0].Behavior).To(Equal("fill-silence"))
			Expect(runs[0].Status).To(Equal(inactivity.DispatchSuccess))
			Expect(runs[0].Activity.Equal(t0)).To(BeTrue())
			// wall clock of the dispatch, not the pass clock
			Expect(runs[0].StartedAt).To(BeTemporally("~", time.Now(), 5*time.Second))

			Expect(sched.Triggers()).To(Equal([]inactivity.TriggerRecord{
				{Room: "irc:#go", Behavior: "fill-silence", Activity: t0},
			}))
		})

		It("notifies observers of finished runs", func() {
			observed := make(chan inactivity.DispatchRun, 1)
			observing, err := inactivity.NewScheduler(source,
				inactivity.WithClock(clock.Now),
				inactivity.WithObserver(func(run inactivity.DispatchRun) { observed <- run }),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(observing.Register(fill)).To(Succeed())

			clock.Set(t0.Add(7 * time.Hour))
			observing.Tick(context.Background())
			observing.WaitDispatches()

			var run inactivity.DispatchRun
			Expect(observed).To(Receive(&run))
			Expect(run.Room).To(Equal("irc:#go"))
			Expect(run.Status).To(Equal(inactivity.DispatchSuccess))
		})
	})

	Describe("Declined thresholds", func() {
		It("never fires for a room the behavior does not apply to", func() {
			leave.declined = map[string]bool{"irc:#home": true}
			Expect(sched.Register(leave)).To(Succeed())
			source.SetRooms("irc:#home")
			source.Message("irc:#home", t0)

			for _, after := range []time.Duration{73 * time.Hour, 200 * time.Hour, 5000 * time.Hour} {
				tickAt(t0.Add(after))
			}
			Expect(rec.Entries()).To(BeEmpty())
			Expect(sched.Triggers()).To(BeEmpty())
		})
	})

	Describe("Simultaneous eligibility", func() {
		It("dispatches every due behavior of a room in registration order", func() {
			Expect(sched.Register(fill)).To(Succeed())
			Expect(sched.Register(leave)).To(Succeed())
			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)

			summary := tickAt(t0.Add(80 * time.Hour))
			Expect(summary.Dispatched).To(Equal(2))
			Expect(rec.Entries()).To(Equal([]string{"fill-silence@irc:#go", "leave-room@irc:#go"}))
		})
	})

	Describe("Failure isolation", func() {
		BeforeEach(func() {
			fill.failIn = map[string]bool{"irc:#a": true}
			fill.panicIn = map[string]bool{"irc:#c": true}
			Expect(sched.Register(fill)).To(Succeed())
			Expect(sched.Register(leave)).To(Succeed())
			source.SetRooms("irc:#a", "irc:#b", "irc:#c")
			for _, r := range []string{"irc:#a", "irc:#b", "irc:#c"} {
				source.Message(r, t0)
			}
		})

		It("keeps evaluating other behaviors and rooms after a failure", func() {
			summary := tickAt(t0.Add(80 * time.Hour))
			Expect(summary.Dispatched).To(Equal(6))
			Expect(summary.Failed).To(Equal(2))

			Expect(rec.Count("fill-silence@irc:#a")).To(Equal(1))
			Expect(rec.Count("leave-room@irc:#a")).To(Equal(1))
			Expect(rec.Count("fill-silence@irc:#b")).To(Equal(1))
			Expect(rec.Count("leave-room@irc:#c")).To(Equal(1))
		})

		It("does not retry a failed action within the same silence period", func() {
			tickAt(t0.Add(7 * time.Hour))
			tickAt(t0.Add(8 * time.Hour))
			Expect(rec.Count("fill-silence@irc:#a")).To(Equal(1))
			Expect(rec.Count("fill-silence@irc:#c")).To(Equal(1))

			failed := 0
			for _, run := range sched.Runs(0) {
				if run.Status == inactivity.DispatchError {
					failed++
					Expect(run.Error).NotTo(BeEmpty())
				}
			}
			Expect(failed).To(Equal(2))
		})

		It("converts panics into errors", func() {
			tickAt(t0.Add(7 * time.Hour))
			var found bool
			for _, run := range sched.Runs(0) {
				if run.Room == "irc:#c" {
					found = true
					Expect(run.Error).To(ContainSubstring("boom"))
				}
			}
			Expect(found).To(BeTrue())
		})
	})

	Describe("Panicking thresholds", func() {
		It("records the period as handled and keeps going", func() {
			panicky := &panickyThreshold{}
			Expect(sched.Register(panicky)).To(Succeed())
			Expect(sched.Register(fill)).To(Succeed())
			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)

			summary := tickAt(t0.Add(7 * time.Hour))
			Expect(summary.Failed).To(Equal(1))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			tickAt(t0.Add(8 * time.Hour))
			Expect(panicky.calls).To(Equal(1))
		})
	})

	Describe("Recovery on new activity", func() {
		It("becomes eligible again once activity advances", func() {
			Expect(sched.Register(fill)).To(Succeed())
			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)
			tickAt(t0.Add(6 * time.Hour))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			source.Message("irc:#go", t0.Add(6*time.Hour+time.Second))
			tickAt(t0.Add(12*time.Hour + time.Second))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(2))
		})
	})

	Describe("Activity source errors", func() {
		BeforeEach(func() {
			Expect(sched.Register(fill)).To(Succeed())
			source.SetRooms("irc:#a", "irc:#b")
			source.Message("irc:#a", t0)
			source.Message("irc:#b", t0)
		})

		It("skips only the failing room and retries it next tick", func() {
			source.FailActivity("irc:#a", errors.New("lookup failed"))
			summary := tickAt(t0.Add(7 * time.Hour))
			Expect(summary.Skipped).To(Equal(1))
			Expect(rec.Entries()).To(Equal([]string{"fill-silence@irc:#b"}))

			source.FailActivity("irc:#a", nil)
			tickAt(t0.Add(7*time.Hour + time.Minute))
			Expect(rec.Count("fill-silence@irc:#a")).To(Equal(1))
		})

		It("skips the whole pass when rooms cannot be listed", func() {
			source.FailRooms(errors.New("disconnected"))
			summary := tickAt(t0.Add(7 * time.Hour))
			Expect(summary.Error).To(ContainSubstring("disconnected"))
			Expect(rec.Entries()).To(BeEmpty())

			source.FailRooms(nil)
			tickAt(t0.Add(7*time.Hour + time.Minute))
			Expect(rec.Entries()).To(HaveLen(2))
		})

		It("skips rooms without known activity", func() {
			source.SetRooms("irc:#new")
			summary := tickAt(t0.Add(100 * time.Hour))
			Expect(summary.Skipped).To(Equal(1))
			Expect(rec.Entries()).To(BeEmpty())
		})
	})

	Describe("Membership changes", func() {
		It("forgets trigger history of rooms that were left", func() {
			Expect(sched.Register(fill)).To(Succeed())
			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)
			tickAt(t0.Add(7 * time.Hour))
			Expect(sched.Triggers()).To(HaveLen(1))

			source.SetRooms()
			tickAt(t0.Add(7*time.Hour + time.Minute))
			Expect(sched.Triggers()).To(BeEmpty())

			source.SetRooms("irc:#go")
			tickAt(t0.Add(7*time.Hour + 2*time.Minute))
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(2))
		})
	})

	Describe("Slow dispatches", func() {
		It("does not stall other rooms and never double dispatches", func() {
			release := make(chan struct{})
			slow := &fakeBehavior{
				name:      "slow",
				threshold: time.Hour,
				blockIn:   map[string]chan struct{}{"irc:#slow": release},
				rec:       rec,
			}
			after := &fakeBehavior{name: "after", threshold: time.Hour, rec: rec}

			var err error
			sched, err = inactivity.NewScheduler(source,
				inactivity.WithClock(clock.Now),
				inactivity.WithDispatchTimeout(50*time.Millisecond),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Register(slow)).To(Succeed())
			Expect(sched.Register(after)).To(Succeed())

			source.SetRooms("irc:#slow", "irc:#fast")
			source.Message("irc:#slow", t0)
			source.Message("irc:#fast", t0)
			clock.Set(t0.Add(2 * time.Hour))

			summary := sched.Tick(context.Background())
			Expect(summary.Deferred).To(Equal(1))
			Expect(rec.Count("slow@irc:#fast")).To(Equal(1))
			Expect(rec.Count("after@irc:#fast")).To(Equal(1))
			Eventually(func() int { return rec.Count("slow@irc:#slow") }).Should(Equal(1))
			Expect(rec.Count("after@irc:#slow")).To(Equal(0))

			summary = sched.Tick(context.Background())
			Expect(summary.Busy).To(Equal(1))
			Expect(rec.Count("after@irc:#slow")).To(Equal(0))

			close(release)
			sched.WaitDispatches()

			sched.Tick(context.Background())
			sched.WaitDispatches()
			Expect(rec.Count("slow@irc:#slow")).To(Equal(1))
			Expect(rec.Count("after@irc:#slow")).To(Equal(1))
		})
	})

	Describe("Detached dispatches", func() {
		It("keeps the action's context alive after the pass stops waiting", func() {
			patient := &patientBehavior{release: make(chan struct{})}

			var err error
			sched, err = inactivity.NewScheduler(source,
				inactivity.WithClock(clock.Now),
				inactivity.WithDispatchTimeout(50*time.Millisecond),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Register(patient)).To(Succeed())

			source.SetRooms("irc:#dead")
			source.Message("irc:#dead", t0)
			clock.Set(t0.Add(100 * time.Hour))

			summary := sched.Tick(context.Background())
			Expect(summary.Deferred).To(Equal(1))

			time.Sleep(100 * time.Millisecond)
			close(patient.release)
			sched.WaitDispatches()

			runs := sched.Runs(10)
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Status).To(Equal(inactivity.DispatchSuccess))
			Expect(runs[0].Error).To(BeEmpty())
			Expect(runs[0].DurationMs).To(BeNumerically(">=", 100))
		})

		It("rejects a non positive execute timeout", func() {
			_, err := inactivity.NewScheduler(source, inactivity.WithExecuteTimeout(0))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Lifecycle", func() {
		It("ticks on its cadence and stops without leaking goroutines", func() {
			ignore := goleak.IgnoreCurrent()

			var err error
			sched, err = inactivity.NewScheduler(source,
				inactivity.WithClock(clock.Now),
				inactivity.WithCadence("@every 1s"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Cadence()).To(Equal("@every 1s"))
			Expect(sched.Register(fill)).To(Succeed())

			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)
			clock.Set(t0.Add(7 * time.Hour))

			sched.Start()
			Expect(sched.Register(leave)).To(MatchError(inactivity.ErrSchedulerStarted))

			Eventually(func() int {
				return rec.Count("fill-silence@irc:#go")
			}, "3s", "100ms").Should(Equal(1))

			Consistently(func() int {
				return rec.Count("fill-silence@irc:#go")
			}, "1500ms", "100ms").Should(Equal(1))

			sched.Stop()
			sched.WaitDispatches()
			goleak.VerifyNone(GinkgoT(), ignore)
		})

		It("lets a pass in progress finish on Stop and schedules nothing after", func() {
			var err error
			sched, err = inactivity.NewScheduler(source,
				inactivity.WithClock(clock.Now),
				inactivity.WithCadence("@every 1s"),
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(sched.Register(fill)).To(Succeed())

			source.SetRooms("irc:#go")
			source.Message("irc:#go", t0)
			clock.Set(t0.Add(7 * time.Hour))
			entered, gate := source.Block()

			sched.Start()
			Eventually(entered, "3s").Should(Receive())

			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				sched.Stop()
			}()

			Consistently(stopped, "300ms").ShouldNot(BeClosed())
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(0))

			close(gate)
			Eventually(stopped, "2s").Should(BeClosed())
			Expect(rec.Count("fill-silence@irc:#go")).To(Equal(1))

			listings := source.Listings()
			Consistently(source.Listings, "1500ms", "100ms").Should(Equal(listings))
		})

		It("tolerates Stop without Start", func() {
			sched.Stop()
		})
	})
})
