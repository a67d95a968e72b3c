package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const takenLayout = "2006-01-02 15:04:05"

type HttpError struct {
	StatusCode int
	Body       string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// APIError is a Flickr "stat":"fail" reply relayed by the gateway.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flickr error %d: %s", e.Code, e.Message)
}

// Client talks to the photo gateway.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		log:     logger.New("client"),
	}
}

func (c *Client) SearchPhotos(ctx context.Context, keywords string, page int) (ResultPage, error) {
	qParam := url.Values{}
	qParam.Set("page", strconv.Itoa(page))
	qParam.Set("keywords", keywords)

	var data photosResponse
	if err := c.get(ctx, "/api/images?"+qParam.Encode(), &data); err != nil {
		return ResultPage{}, err
	}
	if err := data.err(); err != nil {
		return ResultPage{}, err
	}

	output := make([]PhotoSummary, len(data.Photos.Photo))
	for i, el := range data.Photos.Photo {
		output[i] = PhotoSummary{
			ID:       el.ID,
			Owner:    el.Owner,
			Secret:   el.Secret,
			Server:   el.Server,
			Farm:     int(el.Farm),
			Title:    el.Title,
			IsPublic: el.IsPublic != 0,
			IsFriend: el.IsFriend != 0,
			IsFamily: el.IsFamily != 0,
		}
	}
	return ResultPage{
		Page:       int(data.Photos.Page),
		TotalPages: int(data.Photos.Pages),
		Items:      output,
	}, nil
}

func (c *Client) PhotoDetail(ctx context.Context, photoID string) (PhotoDetail, error) {
	var data infoResponse
	if err := c.get(ctx, "/api/images/"+url.PathEscape(photoID), &data); err != nil {
		return PhotoDetail{}, err
	}
	if err := data.err(); err != nil {
		return PhotoDetail{}, err
	}

	info := data.Photo
	detail := PhotoDetail{
		Owner: Owner{
			NSID:       info.Owner.NSID,
			Username:   info.Owner.Username,
			IconServer: info.Owner.IconServer,
			IconFarm:   int(info.Owner.IconFarm),
		},
		Title:       info.Title.Content,
		Description: info.Description.Content,
	}
	if info.Dates.Taken != "" {
		taken, err := time.ParseInLocation(takenLayout, info.Dates.Taken, time.UTC)
		if err != nil {
			c.log.Warn().Err(err).Str("photo_id", photoID).Msg("Unparseable taken date")
		} else {
			detail.TakenAt = taken
		}
	}
	return detail, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	c.log.Debug().Str("url", c.BaseURL+path).Send()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Err(err).Msg("Failed to close response body")
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HttpError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// flexInt accepts both 12 and "12"; Flickr is not consistent about it.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*n = flexInt(v)
	return nil
}

type flickrStatus struct {
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s flickrStatus) err() error {
	if s.Stat == "fail" {
		return &APIError{Code: s.Code, Message: s.Message}
	}
	return nil
}

type photoJSON struct {
	ID       string  `json:"id"`
	Owner    string  `json:"owner"`
	Secret   string  `json:"secret"`
	Server   string  `json:"server"`
	Farm     flexInt `json:"farm"`
	Title    string  `json:"title"`
	IsPublic flexInt `json:"ispublic"`
	IsFriend flexInt `json:"isfriend"`
	IsFamily flexInt `json:"isfamily"`
}

type photosResponse struct {
	flickrStatus
	Photos struct {
		Page    flexInt     `json:"page"`
		Pages   flexInt     `json:"pages"`
		PerPage flexInt     `json:"perpage"`
		Total   flexInt     `json:"total"`
		Photo   []photoJSON `json:"photo"`
	} `json:"photos"`
}

type content struct {
	Content string `json:"_content"`
}

type infoResponse struct {
	flickrStatus
	Photo struct {
		ID    string `json:"id"`
		Owner struct {
			NSID       string  `json:"nsid"`
			Username   string  `json:"username"`
			IconServer string  `json:"iconserver"`
			IconFarm   flexInt `json:"iconfarm"`
		} `json:"owner"`
		Title       content `json:"title"`
		Description content `json:"description"`
		Dates       struct {
			Taken string `json:"taken"`
		} `json:"dates"`
	} `json:"photo"`
}
