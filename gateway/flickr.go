package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const (
	FlickrURL = "https://www.flickr.com/services/rest/"
	PerPage   = "20"

	MethodSearch = "flickr.photos.search"
	MethodRecent = "flickr.photos.getRecent"
	MethodInfo   = "flickr.photos.getInfo"
)

// UpstreamError is a non-2xx answer from Flickr.
type UpstreamError struct {
	StatusCode int
	Status     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("unexpected upstream status: %s", e.Status)
}

// Relay is an upstream answer passed back to the caller untouched.
type Relay struct {
	Status      int
	ContentType string
	Body        []byte
}

type FlickrApi struct {
	Http    *http.Client
	cache   *ReqCache
	apiKey  string
	baseUrl string
	log     zerolog.Logger
}

// NewFlickrApi creates the upstream client. cache may be nil to disable response caching.
func NewFlickrApi(apiKey string, baseUrl string, cache *ReqCache) *FlickrApi {
	if baseUrl == "" {
		baseUrl = FlickrURL
	}
	return &FlickrApi{
		Http:    createHTTPClient(),
		cache:   cache,
		apiKey:  apiKey,
		baseUrl: baseUrl,
		log:     logger.New("flickr"),
	}
}

func createHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = 7 * time.Second
	transport.MaxIdleConnsPerHost = 20
	transport.IdleConnTimeout = 5 * time.Minute

	return &http.Client{
		Transport: transport,
	}
}

func (api *FlickrApi) baseParams() url.Values {
	qParam := url.Values{}
	qParam.Set("api_key", api.apiKey)
	qParam.Set("format", "json")
	qParam.Set("nojsoncallback", "1")
	return qParam
}

// SearchParams searches by free text when keywords is set and lists recent uploads otherwise.
func (api *FlickrApi) SearchParams(keywords string, page int) url.Values {
	qParam := api.baseParams()
	qParam.Set("page", fmt.Sprint(page))
	qParam.Set("safe_search", "1")
	qParam.Set("per_page", PerPage)
	if keywords != "" {
		qParam.Set("text", keywords)
		qParam.Set("method", MethodSearch)
	} else {
		qParam.Set("method", MethodRecent)
	}
	return qParam
}

func (api *FlickrApi) InfoParams(photoID string) url.Values {
	qParam := api.baseParams()
	qParam.Set("method", MethodInfo)
	qParam.Set("photo_id", photoID)
	return qParam
}

// Fetch calls the REST endpoint. Transport errors and non-2xx answers are returned as errors.
func (api *FlickrApi) Fetch(ctx context.Context, params url.Values) (Relay, error) {
	getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseUrl+"?"+params.Encode(), nil)
	if err != nil {
		return Relay{}, fmt.Errorf("create request: %w", err)
	}

	var resp *http.Response
	if api.cache != nil {
		resp, err = api.cache.CachedFetch(getReq, api.Http)
	} else {
		resp, err = api.Http.Do(getReq)
	}
	if err != nil {
		// the request URL carries api_key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = api.baseUrl
		}
		return Relay{}, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			api.log.Err(err).Msg("Failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Relay{}, &UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Relay{}, fmt.Errorf("read body: %w", err)
	}

	api.log.Debug().
		Str("method", params.Get("method")).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Send()

	return Relay{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
