package pd_test

import (
	"github.com/arts-edt/corepd/cluster"
	"github.com/arts-edt/corepd/guid"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// Ginkgo spec, grounded on the teacher's xaction-notification suite: a
// registry of listeners keyed by subject GUID, each satisfied exactly once
// by a completion or abort NotifMsg.
var _ = Describe("NotifRegistry", func() {
	var (
		reg     *cluster.NotifRegistry
		subject guid.Guid
	)

	BeforeEach(func() {
		reg = cluster.NewNotifRegistry()
		subject = guid.Make(guid.KindEvent, 1, 42)
	})

	It("wakes every waiter once the subject finishes", func() {
		nl := cluster.NewNotifListener(subject, "evt-satisfy")
		reg.Register(nl)

		done := nl.Wait()
		Consistently(done).ShouldNot(BeClosed())

		reg.Deliver(cluster.NotifMsg{Subject: subject})

		Eventually(done).Should(BeClosed())
		Expect(nl.Finished()).To(BeTrue())
		Expect(nl.Aborted()).To(BeFalse())
	})

	It("marks the listener aborted when the notif carries an error", func() {
		nl := cluster.NewNotifListener(subject, "evt-satisfy")
		reg.Register(nl)

		reg.Deliver(cluster.NotifMsg{Subject: subject, ErrMsg: "remote peer unreachable"})

		Expect(nl.Aborted()).To(BeTrue())
		Expect(nl.Finished()).To(BeFalse())
	})

	It("silently discards a notif for a subject nobody registered", func() {
		unregistered := guid.Make(guid.KindEvent, 1, 99)
		Expect(func() { reg.Deliver(cluster.NotifMsg{Subject: unregistered}) }).NotTo(Panic())
		_, ok := reg.Get(unregistered)
		Expect(ok).To(BeFalse())
	})

	It("returns an already-closed channel to a waiter arriving after completion", func() {
		nl := cluster.NewNotifListener(subject, "evt-satisfy")
		nl.MarkFinished()

		Expect(nl.Wait()).To(BeClosed())
	})
})
