package rooms_test

import (
	"os"
	"path/filepath"

	"github.com/mudler/roomkeeper/core/rooms"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JSONTagStore", func() {
	var (
		dir   string
		path  string
		store *rooms.JSONTagStore
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "tags_test")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "nested", "tags.json")

		store, err = rooms.NewJSONTagStore(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("creates the backing file", func() {
		_, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
	})

	It("adds and removes tags", func() {
		Expect(store.AddTag("irc:#home", rooms.TagHome)).To(Succeed())
		Expect(store.AddTag("irc:#home", rooms.TagQuiet)).To(Succeed())
		Expect(store.AddTag("irc:#home", rooms.TagHome)).To(Succeed())

		Expect(store.Tags("irc:#home")).To(Equal([]rooms.Tag{rooms.TagHome, rooms.TagQuiet}))
		Expect(store.HasTag("irc:#home", rooms.TagHome)).To(BeTrue())
		Expect(store.HasTag("irc:#other", rooms.TagHome)).To(BeFalse())

		Expect(store.RemoveTag("irc:#home", rooms.TagHome)).To(Succeed())
		Expect(store.Tags("irc:#home")).To(Equal([]rooms.Tag{rooms.TagQuiet}))

		Expect(store.RemoveTag("irc:#home", rooms.TagQuiet)).To(Succeed())
		Expect(store.All()).To(BeEmpty())
	})

	It("normalizes tags on RemoveTag", func() {
		Expect(store.AddTag("irc:#home", rooms.TagHome)).To(Succeed())
		Expect(store.RemoveTag("irc:#home", " Home")).To(Succeed())
		Expect(store.HasTag("irc:#home", rooms.TagHome)).To(BeFalse())

		Expect(store.RemoveTag("irc:#home", "")).To(MatchError(rooms.ErrInvalidTag))
	})

	It("keeps the previous tags when they cannot be saved", func() {
		Expect(store.AddTag("irc:#go", rooms.TagQuiet)).To(Succeed())

		// the state directory turns into a file
		Expect(os.RemoveAll(filepath.Dir(path))).To(Succeed())
		Expect(os.WriteFile(filepath.Dir(path), []byte("x"), 0644)).To(Succeed())

		Expect(store.AddTag("irc:#go", rooms.TagHome)).NotTo(Succeed())
		Expect(store.SetTags("irc:#new", []rooms.Tag{rooms.TagHome})).NotTo(Succeed())
		Expect(store.RemoveTag("irc:#go", rooms.TagQuiet)).NotTo(Succeed())

		Expect(store.All()).To(Equal(map[string][]rooms.Tag{"irc:#go": {rooms.TagQuiet}}))
	})

	It("normalizes tags on SetTags", func() {
		Expect(store.SetTags("irc:#go", []rooms.Tag{" Quiet", "home", "quiet"})).To(Succeed())
		Expect(store.Tags("irc:#go")).To(Equal([]rooms.Tag{rooms.TagHome, rooms.TagQuiet}))

		Expect(store.SetTags("irc:#go", nil)).To(Succeed())
		Expect(store.Tags("irc:#go")).To(BeEmpty())
	})

	It("rejects invalid tags", func() {
		Expect(store.AddTag("irc:#go", "two words")).To(MatchError(rooms.ErrInvalidTag))
		Expect(store.SetTags("irc:#go", []rooms.Tag{""})).To(MatchError(rooms.ErrInvalidTag))
	})

	It("persists data across store instances", func() {
		Expect(store.AddTag("matrix:!abc:host", rooms.TagHome)).To(Succeed())

		reopened, err := rooms.NewJSONTagStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.HasTag("matrix:!abc:host", rooms.TagHome)).To(BeTrue())
	})

	It("keeps tags in memory when no path is given", func() {
		mem, err := rooms.NewJSONTagStore("")
		Expect(err).NotTo(HaveOccurred())
		Expect(mem.AddTag("irc:#go", rooms.TagQuiet)).To(Succeed())
		Expect(mem.HasTag("irc:#go", rooms.TagQuiet)).To(BeTrue())
	})

	It("returns copies from All", func() {
		Expect(store.AddTag("irc:#go", rooms.TagQuiet)).To(Succeed())
		all := store.All()
		all["irc:#go"][0] = rooms.TagHome
		Expect(store.HasTag("irc:#go", rooms.TagQuiet)).To(BeTrue())
	})
})
