package session

import (
	"fmt"
	"time"
)

const staticHost = "https://live.staticflickr.com"

type PhotoSummary struct {
	ID       string
	Owner    string
	Secret   string
	Server   string
	Farm     int
	Title    string
	IsPublic bool
	IsFriend bool
	IsFamily bool
}

// ThumbnailURL is the 400px grid image.
func (p PhotoSummary) ThumbnailURL() string {
	return fmt.Sprintf("%s/%s/%s_%s_w.jpg", staticHost, p.Server, p.ID, p.Secret)
}

func (p PhotoSummary) ImageURL() string {
	return fmt.Sprintf("%s/%s/%s_%s.jpg", staticHost, p.Server, p.ID, p.Secret)
}

type Owner struct {
	NSID       string
	Username   string
	IconServer string
	IconFarm   int
}

func (o Owner) AvatarURL() string {
	return fmt.Sprintf("http://farm%d.staticflickr.com/%s/buddyicons/%s.jpg", o.IconFarm, o.IconServer, o.NSID)
}

type PhotoDetail struct {
	Owner       Owner
	Title       string
	Description string
	TakenAt     time.Time
}

// TakenDate renders the capture time the way the detail overlay shows it.
func (d PhotoDetail) TakenDate() string {
	if d.TakenAt.IsZero() {
		return ""
	}
	return d.TakenAt.Format("2 January 2006 15:04")
}

// ResultPage is one page of search results. It replaces the previous page, it is never merged.
type ResultPage struct {
	Page       int
	TotalPages int
	Items      []PhotoSummary
}

func (r *ResultPage) find(id string) (PhotoSummary, bool) {
	if r == nil {
		return PhotoSummary{}, false
	}
	for _, p := range r.Items {
		if p.ID == id {
			return p, true
		}
	}
	return PhotoSummary{}, false
}
