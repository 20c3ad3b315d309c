package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/siriushex/astral/cache"
	"github.com/siriushex/astral/config"
	"github.com/siriushex/astral/handlers"
	"github.com/siriushex/astral/log"
	"github.com/siriushex/astral/metrics"
	"github.com/siriushex/astral/middleware"
)

func ListenAndServeInternal(ctx context.Context, cli config.Cli, streamCache *cache.StreamCache) error {
	router := NewCacheRouterInternal(streamCache, cli.IdleTimeout)
	server := http.Server{Addr: cli.HTTPInternalAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoStreamID(
		"Starting internal cache API",
		"version", config.Version,
		"host", cli.HTTPInternalAddress,
		"url", cli.OwnInternalURL(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	select {
	case err := <-errCh:
		return err
	default:
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewCacheRouterInternal(streamCache *cache.StreamCache, idleTimeout time.Duration) *httprouter.Router {
	router := httprouter.New()
	h := handlers.NewCacheHandlersCollection(streamCache, idleTimeout)

	route := func(method, path string, handle httprouter.Handle) {
		router.Handle(method, path, middleware.LogRequest(path)(handle))
	}

	route("GET", "/ok", h.Ok())
	route("GET", "/healthcheck", h.Healthcheck())

	route("GET", "/debug/streams", h.ListStreams())
	route("GET", "/debug/streams/:id", h.GetStream())
	route("DELETE", "/debug/streams/:id", h.DeleteStream())
	route("POST", "/debug/sweep", h.Sweep())

	// scrapes are frequent enough that logging each one is noise
	router.Handler("GET", "/metrics", metrics.Handler())

	return router
}
