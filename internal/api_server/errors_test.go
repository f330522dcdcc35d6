package apiserver

import (
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("error rendering", func() {
	It("writes the error model with the given status", func() {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)

		renderError(http.StatusBadRequest)(rr, req, errors.New("can't decode JSON body"))

		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		Expect(rr.Header().Get("Content-Type")).To(HavePrefix("application/json"))
		Expect(rr.Body.String()).To(MatchJSON(`{"message":"can't decode JSON body"}`))
	})
})
