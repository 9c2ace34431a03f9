package commands_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/mudler/roomkeeper/services/commands"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Slang", func() {
	var (
		server *httptest.Server
		slang  *commands.Slang
		terms  []string
	)

	BeforeEach(func() {
		terms = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			term := r.URL.Query().Get("term")
			terms = append(terms, term)
			w.Header().Set("Content-Type", "application/json")
			switch term {
			case "yeet":
				fmt.Fprint(w, `{"list":[
					{"word":"yeet","definition":"a weak [definition]","thumbs_up":2},
					{"word":"yeet","definition":"To [throw]   something\r\nwith force","thumbs_up":90}
				]}`)
			case "broken":
				w.WriteHeader(http.StatusInternalServerError)
			default:
				fmt.Fprint(w, `{"list":[]}`)
			}
		}))
		DeferCleanup(server.Close)

		var err error
		slang, err = commands.NewSlang(map[string]string{"endpoint": server.URL})
		Expect(err).ToNot(HaveOccurred())
	})

	It("answers with the most upvoted definition", func() {
		Expect(slang.Run(context.Background(), "yeet")).To(Equal("yeet: To throw something with force"))
	})

	It("escapes the term", func() {
		_, err := slang.Run(context.Background(), "no such thing")
		Expect(err).ToNot(HaveOccurred())
		Expect(terms).To(Equal([]string{"no such thing"}))
	})

	It("says so when nothing is found", func() {
		Expect(slang.Run(context.Background(), "zzz")).To(Equal(`No definition found for "zzz"`))
	})

	It("fails on server errors", func() {
		_, err := slang.Run(context.Background(), "broken")
		Expect(err).To(HaveOccurred())
	})

	It("requires a term", func() {
		_, err := slang.Run(context.Background(), "  ")
		Expect(err).To(MatchError(commands.ErrUsage))
	})
})

var _ = Describe("Imgur", func() {
	var (
		server  *httptest.Server
		imgur   *commands.Imgur
		paths   []string
		authHdr string
	)

	BeforeEach(func() {
		paths = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			authHdr = r.Header.Get("Authorization")
			w.Header().Set("Content-Type", "application/json")
			switch {
			case r.URL.Path == "/image/abc123":
				fmt.Fprint(w, `{"success":true,"data":{"title":"A cat","type":"image/png","width":640,"height":480,"views":12}}`)
			case r.URL.Path == "/album/xyz":
				fmt.Fprint(w, `{"success":true,"data":{"title":"","images_count":3,"views":7,"nsfw":true}}`)
			case strings.HasPrefix(r.URL.Path, "/image/"):
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		DeferCleanup(server.Close)

		var err error
		imgur, err = commands.NewImgur(map[string]string{"clientID": "cid", "api": server.URL})
		Expect(err).ToNot(HaveOccurred())
	})

	It("requires a client id", func() {
		_, err := commands.NewImgur(map[string]string{})
		Expect(err).To(HaveOccurred())
	})

	It("ignores messages without imgur links", func() {
		Expect(imgur.Watch(context.Background(), "see https://example.com/abc123.png")).To(BeEmpty())
		Expect(paths).To(BeEmpty())
	})

	It("describes direct image links", func() {
		answer, err := imgur.Watch(context.Background(), "look https://i.imgur.com/abc123.png lol")
		Expect(err).ToNot(HaveOccurred())
		Expect(answer).To(Equal("imgur: A cat [image/png 640x480, 12 views]"))
		Expect(authHdr).To(Equal("Client-ID cid"))
	})

	It("describes albums and looks each link up once", func() {
		answer, err := imgur.Watch(context.Background(), "imgur.com/a/xyz and again https://imgur.com/a/xyz")
		Expect(err).ToNot(HaveOccurred())
		Expect(answer).To(Equal("imgur: untitled [3 images, 7 views, NSFW]"))
		Expect(paths).To(Equal([]string{"/album/xyz"}))
	})

	It("fails on unknown images", func() {
		_, err := imgur.Watch(context.Background(), "https://imgur.com/missing")
		Expect(err).To(HaveOccurred())
	})
})
