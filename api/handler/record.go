package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/recordlog/api/transport"
	"github.com/fastygo/recordlog/pkg/httpcontext"
	"github.com/fastygo/recordlog/usecase/record"
)

const defaultPageSize = 50

type RecordHandler struct {
	baseHandler
	uc *record.UseCase
}

func NewRecordHandler(uc *record.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary List records
// @Tags records
// @Router /api/v1/records [get]
func (h *RecordHandler) List(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	filter := record.ListFilter{
		IncludeDeleted: args.GetBool("include_deleted"),
		Limit:          parseInt(string(args.Peek("limit")), defaultPageSize),
		Offset:         parseInt(string(args.Peek("offset")), 0),
	}
	if raw := string(args.Peek("modified_since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondInvalid(ctx, "modified_since must be an RFC 3339 timestamp")
			return
		}
		filter.ModifiedSince = since
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		h.respondInvalid(ctx, "limit and offset must not be negative")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	entities, err := h.uc.List(stdCtx, filter)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(entities, transport.ListMeta{
		Count:  len(entities),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}))
}

// @Summary Create record
// @Tags records
// @Router /api/v1/records [post]
func (h *RecordHandler) Create(ctx *fasthttp.RequestCtx) {
	var req transport.RecordCreateRequest
	if !h.decode(ctx, &req) {
		return
	}
	if req.Fields == nil {
		h.respondInvalid(ctx, "fields is required")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	created, err := h.uc.Create(stdCtx, req.Fields, httpcontext.Actor(stdCtx))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	setVersion(ctx, created.Version)
	ctx.Response.Header.Set("Location", "/api/v1/records/"+created.ID)
	h.respondSuccess(ctx, http.StatusCreated, created)
}

// @Summary Get record
// @Tags records
// @Router /api/v1/records/{id} [get]
func (h *RecordHandler) Get(ctx *fasthttp.RequestCtx) {
	id, ok := h.entityID(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	entity, err := h.uc.Get(stdCtx, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	setVersion(ctx, entity.Version)
	h.respondSuccess(ctx, http.StatusOK, entity)
}

// @Summary Get record at a past version
// @Tags records
// @Router /api/v1/records/{id}/versions/{version} [get]
func (h *RecordHandler) GetVersion(ctx *fasthttp.RequestCtx) {
	id, ok := h.entityID(ctx)
	if !ok {
		return
	}
	raw, _ := ctx.UserValue("version").(string)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.respondInvalid(ctx, "version must be an integer")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	entity, err := h.uc.GetAt(stdCtx, id, version)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, entity)
}

// @Summary Record history
// @Tags records
// @Router /api/v1/records/{id}/history [get]
func (h *RecordHandler) History(ctx *fasthttp.RequestCtx) {
	id, ok := h.entityID(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	events, err := h.uc.History(stdCtx, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, events)
}

// @Summary Patch record
// @Tags records
// @Router /api/v1/records/{id} [patch]
func (h *RecordHandler) Patch(ctx *fasthttp.RequestCtx) {
	id, ok := h.entityID(ctx)
	if !ok {
		return
	}
	var req transport.RecordPatchRequest
	if !h.decode(ctx, &req) {
		return
	}
	if req.Version == nil {
		h.respondInvalid(ctx, "version is required")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	res, err := h.uc.Patch(stdCtx, id, *req.Version, req.Changes, httpcontext.Actor(stdCtx))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	setVersion(ctx, res.Entity.Version)
	h.respondJSON(ctx, http.StatusOK, transport.NewSuccess(res.Entity, transport.PatchMeta{
		Merged:        res.Merged,
		KeptCommitted: res.Kept,
		Sequence:      res.Event.Sequence,
	}))
}

// @Summary Delete record
// @Tags records
// @Router /api/v1/records/{id} [delete]
func (h *RecordHandler) Delete(ctx *fasthttp.RequestCtx) {
	id, ok := h.entityID(ctx)
	if !ok {
		return
	}
	version, err := strconv.ParseInt(string(ctx.QueryArgs().Peek("version")), 10, 64)
	if err != nil {
		h.respondInvalid(ctx, "version query parameter is required")
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	deleted, err := h.uc.Delete(stdCtx, id, version, httpcontext.Actor(stdCtx))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	setVersion(ctx, deleted.Version)
	h.respondSuccess(ctx, http.StatusOK, deleted)
}

func (h *RecordHandler) decode(ctx *fasthttp.RequestCtx, dst interface{}) bool {
	dec := json.NewDecoder(bytes.NewReader(ctx.PostBody()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.respondInvalid(ctx, "invalid payload")
		return false
	}
	return true
}

func (h *RecordHandler) entityID(ctx *fasthttp.RequestCtx) (string, bool) {
	id, _ := ctx.UserValue("id").(string)
	if id == "" {
		h.respondInvalid(ctx, "missing record id")
		return "", false
	}
	return id, true
}

func setVersion(ctx *fasthttp.RequestCtx, version int64) {
	ctx.Response.Header.Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}
