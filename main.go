package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/moddengine/photoproxy/gateway"
	"github.com/moddengine/photoproxy/logger"
)

var log = logger.New("main")

func main() {
	cfg, err := loadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reqCache *gateway.ReqCache
	if cfg.Cache.Enabled {
		store, err := gateway.NewStore(cfg.Cache.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open cache database")
		}
		defer store.Close()
		reqCache = gateway.NewReqCache(store, cfg.Cache.TTL, cfg.Cache.MemorySize)
		go reqCache.PurgeExpired(ctx, cfg.Cache.PurgeInterval)
		log.Info().Str("database", cfg.Cache.Database).Dur("ttl", cfg.Cache.TTL).Msg("Response cache enabled")
	}

	flickr := gateway.NewFlickrApi(cfg.FlickrKey, cfg.FlickrURL, reqCache)
	gw := gateway.New(flickr)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: gw.Router(),
	}

	go func() {
		log.Info().Msgf("Server is listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server can't start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
