// Package gateway relays photo searches and photo lookups to the Flickr REST API,
// adding the API key and reshaping the query parameters on the way.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const (
	BadRequestText      = "Server did not receive the correct query parameters"
	UpstreamFailureText = "Internal Server Error"
)

var ErrBadRequest = errors.New("bad request")

type Gateway struct {
	flickr *FlickrApi
	log    zerolog.Logger
}

func New(flickr *FlickrApi) *Gateway {
	return &Gateway{
		flickr: flickr,
		log:    logger.New("gateway"),
	}
}

func (g *Gateway) Router() *gin.Engine {
	router := gin.New()
	router.Use(RequestIDMiddleware(), RequestLoggingMiddleware(g.log), gin.Recovery(), CORSMiddleware())

	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/images", g.SearchPhotos)
		api.GET("/images/:photoId", g.GetPhotoDetail)
	}
	return router
}

// SearchPhotos serves GET /api/images?keywords=&page=.
func (g *Gateway) SearchPhotos(c *gin.Context) {
	page, err := parsePage(c.Query("page"))
	if err != nil {
		c.String(http.StatusBadRequest, BadRequestText)
		return
	}
	keywords := strings.Join(c.QueryArray("keywords"), " ")
	g.relay(c, g.flickr.SearchParams(keywords, page))
}

// GetPhotoDetail serves GET /api/images/:photoId.
func (g *Gateway) GetPhotoDetail(c *gin.Context) {
	photoID, err := parsePhotoID(c.Param("photoId"))
	if err != nil {
		c.String(http.StatusBadRequest, BadRequestText)
		return
	}
	g.relay(c, g.flickr.InfoParams(photoID))
}

// relay answers with the upstream status and body. Any upstream failure becomes a 404 with a
// fixed text; the upstream status is not passed on.
func (g *Gateway) relay(c *gin.Context, params url.Values) {
	res, err := g.flickr.Fetch(c.Request.Context(), params)
	if err != nil {
		event := g.log.Error().Err(err).Str("method", params.Get("method"))
		var upstreamErr *UpstreamError
		if errors.As(err, &upstreamErr) {
			event = event.Int("upstream_status", upstreamErr.StatusCode)
		}
		event.Msg("Error connecting to upstream service")
		c.String(http.StatusNotFound, UpstreamFailureText)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Header("Content-Type", contentType)

	body := brotli.HTTPCompressor(c.Writer, c.Request)
	defer func() {
		if err := body.Close(); err != nil {
			g.log.Err(err).Msg("Failed to finish response")
		}
	}()
	c.Status(res.Status)
	if _, err := body.Write(res.Body); err != nil {
		g.log.Err(err).Msg("Failed to write response")
	}
}

func parsePage(raw string) (int, error) {
	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: page %q", ErrBadRequest, raw)
	}
	if page < 1 {
		return 0, fmt.Errorf("%w: page %d", ErrBadRequest, page)
	}
	return page, nil
}

func parsePhotoID(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: missing photo id", ErrBadRequest)
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", fmt.Errorf("%w: photo id %q", ErrBadRequest, raw)
	}
	return raw, nil
}
