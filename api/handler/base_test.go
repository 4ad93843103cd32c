package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/recordlog/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrEntityNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrEntityDeleted, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrInvalidPayload, http.StatusBadRequest, "INVALID"},
		{domain.ValidationError("cpf", "too long"), http.StatusUnprocessableEntity, "VALIDATION"},
		{domain.DuplicateValue("cpf"), http.StatusConflict, "DUPLICATE"},
		{domain.ErrInvalidVersion, http.StatusConflict, "INVALID_VERSION"},
		{domain.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{domain.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{domain.StoreUnavailable(errors.New("dial tcp")), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRespondError_RetryAfter(t *testing.T) {
	h := newBaseHandler(nil, nil)

	ctx := &fasthttp.RequestCtx{}
	h.respondError(ctx, domain.WrapError(domain.ErrCodeConcurrentModification, "busy", errors.New("race")))
	assert.Equal(t, http.StatusConflict, ctx.Response.StatusCode())
	assert.Equal(t, "1", string(ctx.Response.Header.Peek("Retry-After")))

	ctx = &fasthttp.RequestCtx{}
	h.respondError(ctx, domain.ErrVersionConflict)
	assert.Empty(t, ctx.Response.Header.Peek("Retry-After"))
}

func TestRespondError_HidesInternalDetail(t *testing.T) {
	h := newBaseHandler(nil, nil)
	ctx := &fasthttp.RequestCtx{}
	h.respondError(ctx, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "password")
}
