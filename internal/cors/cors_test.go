package cors_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-gateway/internal/cors"
)

var _ = Describe("CORS", func() {
	var (
		reached bool
		handler http.Handler
		opts    cors.Options
	)

	BeforeEach(func() {
		reached = false
		opts = cors.Options{
			AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Authorization", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           time.Hour,
		}
	})

	JustBeforeEach(func() {
		handler = cors.New(opts).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		}))
	})

	serve := func(method, origin string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/flights", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	It("passes same-origin requests through untouched", func() {
		rec := serve(http.MethodGet, "", nil)
		Expect(reached).To(BeTrue())
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("decorates responses to an allowed origin", func() {
		rec := serve(http.MethodGet, "http://localhost:5173", nil)
		Expect(reached).To(BeTrue())
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("http://localhost:5173"))
		Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(Equal("true"))
		Expect(rec.Header().Get("Access-Control-Expose-Headers")).To(Equal("Authorization, X-Request-ID"))
		Expect(rec.Header().Values("Vary")).To(ContainElement("Origin"))
	})

	It("does not decorate responses to other origins", func() {
		rec := serve(http.MethodGet, "http://evil.example", nil)
		Expect(reached).To(BeTrue())
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("answers an allowed preflight without calling the next stage", func() {
		rec := serve(http.MethodOptions, "http://localhost:3000", map[string]string{
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "Authorization, Content-Type",
		})

		Expect(reached).To(BeFalse())
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(Equal("GET, POST, OPTIONS"))
		Expect(rec.Header().Get("Access-Control-Allow-Headers")).To(Equal("Authorization, Content-Type"))
		Expect(rec.Header().Get("Access-Control-Max-Age")).To(Equal("3600"))
	})

	It("rejects a preflight from a disallowed origin", func() {
		rec := serve(http.MethodOptions, "http://evil.example", map[string]string{
			"Access-Control-Request-Method": "DELETE",
		})
		Expect(reached).To(BeFalse())
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("forwards a plain OPTIONS request", func() {
		serve(http.MethodOptions, "http://localhost:3000", nil)
		Expect(reached).To(BeTrue())
	})

	Context("with a wildcard origin and no credentials", func() {
		BeforeEach(func() {
			opts.AllowedOrigins = []string{"*"}
			opts.AllowCredentials = false
		})

		It("answers with the wildcard", func() {
			rec := serve(http.MethodGet, "http://anything.example", nil)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Credentials")).To(BeEmpty())
		})
	})
})
