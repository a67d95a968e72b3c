// Package session keeps the state of one photo search: the current query, the page of
// results on screen, the photo opened in the detail overlay and the status line.
//
// Fetches run in the background. Results and details travel on two independent lanes,
// each with its own generation counter; a reply is applied only when it belongs to the
// most recent request of its lane, everything older is dropped on arrival.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const (
	StatusInitial = "Make your search"
	StatusFailed  = "Something went wrong"
)

// NoResultsText is the status shown when a search returned zero photos.
func NoResultsText(keywords string) string {
	return `No results found for "` + keywords + `"`
}

type Query struct {
	Keywords string
	Page     int
}

// Fetcher performs the network calls of a session. Client is the HTTP implementation.
type Fetcher interface {
	SearchPhotos(ctx context.Context, keywords string, page int) (ResultPage, error)
	PhotoDetail(ctx context.Context, photoID string) (PhotoDetail, error)
}

// SearchTicket identifies one issued page fetch.
type SearchTicket struct {
	Query Query
	gen   uint64
}

// DetailTicket identifies one issued detail fetch.
type DetailTicket struct {
	PhotoID string
	gen     uint64
}

type Option func(*Session)

// WithOnChange registers a callback receiving a snapshot after every applied transition.
// Snapshots may be delivered from different goroutines; State.Version orders them.
func WithOnChange(fn func(State)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

type Session struct {
	ctx      context.Context
	fetcher  Fetcher
	log      zerolog.Logger
	onChange func(State)
	wg       sync.WaitGroup

	mu            sync.Mutex
	version       uint64
	phase         Phase
	status        string
	query         Query
	results       *ResultPage
	totalPages    int
	selected      *PhotoSummary
	detail        *PhotoDetail
	detailErr     error
	detailLoading bool
	searches      lane
	details       lane
}

// New creates a Session. ctx lives as long as the session: every fetch it starts runs under
// ctx, and cancelling it ends all of them.
func New(ctx context.Context, fetcher Fetcher, opts ...Option) *Session {
	s := &Session{
		ctx:     ctx,
		fetcher: fetcher,
		log:     logger.New("session"),
		phase:   Idle,
		status:  StatusInitial,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit starts a new search on page 1 and closes any open selection. Page and detail
// fetches still in flight become stale.
func (s *Session) Submit(keywords string) SearchTicket {
	s.mu.Lock()
	s.query = Query{Keywords: keywords, Page: 1}
	s.results = nil
	s.totalPages = 0
	s.phase = Loading
	s.selected = nil
	s.detail = nil
	s.detailErr = nil
	s.detailLoading = false
	s.details.next()
	ticket := SearchTicket{Query: s.query, gen: s.searches.next()}
	st := s.commitLocked()
	s.mu.Unlock()

	s.log.Debug().Str("keywords", keywords).Msg("Submitting search")
	s.notify(st)
	s.fetchPage(ticket)
	return ticket
}

// GoToPage moves one page back (-1) or forward (+1) and fetches it. It does nothing and
// reports false when the page count is unknown or the target falls outside 1..TotalPages.
func (s *Session) GoToPage(delta int) (SearchTicket, bool) {
	if delta != -1 && delta != 1 {
		return SearchTicket{}, false
	}

	s.mu.Lock()
	target := s.query.Page + delta
	if s.totalPages == 0 || target < 1 || target > s.totalPages {
		s.mu.Unlock()
		return SearchTicket{}, false
	}
	s.query.Page = target
	s.phase = Loading
	ticket := SearchTicket{Query: s.query, gen: s.searches.next()}
	st := s.commitLocked()
	s.mu.Unlock()

	s.notify(st)
	s.fetchPage(ticket)
	return ticket, true
}

// OnFetchComplete applies the outcome of a page fetch. It reports false when the ticket
// was superseded by a later Submit or GoToPage, in which case nothing changes.
func (s *Session) OnFetchComplete(ticket SearchTicket, page ResultPage, err error) bool {
	s.mu.Lock()
	if !s.searches.current(ticket.gen) {
		s.mu.Unlock()
		s.log.Debug().
			Str("keywords", ticket.Query.Keywords).
			Int("page", ticket.Query.Page).
			Msg("Discarding stale search response")
		return false
	}

	switch {
	case err != nil:
		// the previous page stays on screen
		s.status = StatusFailed
		s.phase = Failed
	case len(page.Items) == 0:
		s.results = nil
		s.totalPages = 0
		s.status = NoResultsText(ticket.Query.Keywords)
		s.phase = Empty
	default:
		page.Page = ticket.Query.Page
		page.Items = append([]PhotoSummary(nil), page.Items...)
		s.results = &page
		s.totalPages = page.TotalPages
		s.status = ""
		s.phase = Populated
	}
	st := s.commitLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Err(err).Str("keywords", ticket.Query.Keywords).Int("page", ticket.Query.Page).Msg("Search failed")
	}
	s.notify(st)
	return true
}

// Select opens the detail overlay for a photo of the current page and fetches its details.
// Unknown ids are ignored.
func (s *Session) Select(photoID string) (DetailTicket, bool) {
	s.mu.Lock()
	photo, ok := s.results.find(photoID)
	if !ok {
		s.mu.Unlock()
		return DetailTicket{}, false
	}
	s.selected = &photo
	s.detail = nil
	s.detailErr = nil
	s.detailLoading = true
	ticket := DetailTicket{PhotoID: photoID, gen: s.details.next()}
	st := s.commitLocked()
	s.mu.Unlock()

	s.notify(st)
	s.fetchDetail(ticket)
	return ticket, true
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.selected = nil
	s.detail = nil
	s.detailErr = nil
	s.detailLoading = false
	s.details.next()
	st := s.commitLocked()
	s.mu.Unlock()

	s.notify(st)
}

// OnDetailComplete applies the outcome of a detail fetch, unless a later Select or
// ClearSelection superseded it.
func (s *Session) OnDetailComplete(ticket DetailTicket, detail PhotoDetail, err error) bool {
	s.mu.Lock()
	if !s.details.current(ticket.gen) {
		s.mu.Unlock()
		s.log.Debug().Str("photo_id", ticket.PhotoID).Msg("Discarding stale detail response")
		return false
	}
	s.detailLoading = false
	if err != nil {
		s.detailErr = err
	} else {
		s.detail = &detail
	}
	st := s.commitLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Err(err).Str("photo_id", ticket.PhotoID).Msg("Detail fetch failed")
	}
	s.notify(st)
	return true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until every fetch issued so far has been delivered.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) fetchPage(ticket SearchTicket) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		page, err := s.fetcher.SearchPhotos(s.ctx, ticket.Query.Keywords, ticket.Query.Page)
		s.OnFetchComplete(ticket, page, err)
	}()
}

func (s *Session) fetchDetail(ticket DetailTicket) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		detail, err := s.fetcher.PhotoDetail(s.ctx, ticket.PhotoID)
		s.OnDetailComplete(ticket, detail, err)
	}()
}

func (s *Session) notify(st State) {
	if s.onChange != nil {
		s.onChange(st)
	}
}

func (s *Session) commitLocked() State {
	s.version++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		Version:       s.version,
		Phase:         s.phase,
		StatusText:    s.status,
		Query:         s.query,
		TotalPages:    s.totalPages,
		DetailErr:     s.detailErr,
		DetailLoading: s.detailLoading,
	}
	if s.results != nil {
		page := *s.results
		st.Results = &page
	}
	if s.selected != nil {
		photo := *s.selected
		st.Selected = &photo
	}
	if s.detail != nil {
		detail := *s.detail
		st.Detail = &detail
	}
	return st
}
