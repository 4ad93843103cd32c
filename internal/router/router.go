package router

import (
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"github.com/valyala/fasthttp/pprofhandler"

	apiHandler "github.com/fastygo/recordlog/api/handler"
	"github.com/fastygo/recordlog/internal/middleware"
)

type Handlers struct {
	Record *apiHandler.RecordHandler
	Health *apiHandler.HealthHandler
}

// Options toggles operational endpoints.
type Options struct {
	EnableMetrics bool
	EnablePprof   bool
}

func New(handlers Handlers, auth middleware.Middleware, opts Options) *router.Router {
	r := router.New()
	if auth == nil {
		auth = func(next fasthttp.RequestHandler) fasthttp.RequestHandler { return next }
	}

	r.GET("/health", handlers.Health.Check)
	if opts.EnableMetrics {
		r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	}
	if opts.EnablePprof {
		r.GET("/debug/pprof/{profile:*}", pprofhandler.PprofHandler)
	}

	r.GET("/api/v1/records", auth(handlers.Record.List))
	r.POST("/api/v1/records", auth(handlers.Record.Create))
	r.GET("/api/v1/records/{id}", auth(handlers.Record.Get))
	r.PATCH("/api/v1/records/{id}", auth(handlers.Record.Patch))
	r.DELETE("/api/v1/records/{id}", auth(handlers.Record.Delete))
	r.GET("/api/v1/records/{id}/history", auth(handlers.Record.History))
	r.GET("/api/v1/records/{id}/versions/{version}", auth(handlers.Record.GetVersion))

	return r
}
