package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("offline")

func photos(prefix string, n int) []PhotoSummary {
	out := make([]PhotoSummary, n)
	for i := range out {
		out[i] = PhotoSummary{
			ID:     fmt.Sprintf("%s%d", prefix, i+1),
			Server: "65535",
			Secret: "abc",
			Title:  fmt.Sprintf("%s %d", prefix, i+1),
		}
	}
	return out
}

// scriptedFetcher answers immediately from fixed tables.
type scriptedFetcher struct {
	mu      sync.Mutex
	pages   map[Query]ResultPage
	errs    map[Query]error
	details map[string]PhotoDetail
	calls   []Query
}

func newScripted() *scriptedFetcher {
	return &scriptedFetcher{
		pages:   map[Query]ResultPage{},
		errs:    map[Query]error{},
		details: map[string]PhotoDetail{},
	}
}

func (f *scriptedFetcher) SearchPhotos(_ context.Context, keywords string, page int) (ResultPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := Query{Keywords: keywords, Page: page}
	f.calls = append(f.calls, q)
	if err := f.errs[q]; err != nil {
		return ResultPage{}, err
	}
	return f.pages[q], nil
}

func (f *scriptedFetcher) PhotoDetail(_ context.Context, photoID string) (PhotoDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[photoID]
	if !ok {
		return PhotoDetail{}, errOffline
	}
	return d, nil
}

// blockingFetcher never answers before the context ends, leaving delivery to the test.
type blockingFetcher struct{}

func (blockingFetcher) SearchPhotos(ctx context.Context, _ string, _ int) (ResultPage, error) {
	<-ctx.Done()
	return ResultPage{}, ctx.Err()
}

func (blockingFetcher) PhotoDetail(ctx context.Context, _ string) (PhotoDetail, error) {
	<-ctx.Done()
	return PhotoDetail{}, ctx.Err()
}

// gatedFetcher answers a search once the gate of its keywords is closed.
type gatedFetcher struct {
	gates map[string]chan struct{}
	pages map[string]ResultPage
}

func (f *gatedFetcher) SearchPhotos(ctx context.Context, keywords string, _ int) (ResultPage, error) {
	select {
	case <-f.gates[keywords]:
		return f.pages[keywords], nil
	case <-ctx.Done():
		return ResultPage{}, ctx.Err()
	}
}

func (f *gatedFetcher) PhotoDetail(ctx context.Context, _ string) (PhotoDetail, error) {
	<-ctx.Done()
	return PhotoDetail{}, ctx.Err()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func assertStatusInvariant(t *testing.T, st State) {
	t.Helper()
	assert.Equal(t, st.StatusText == "", len(st.Items()) > 0,
		"status %q with %d items", st.StatusText, len(st.Items()))
}

func TestNewSession(t *testing.T) {
	s := New(testContext(t), newScripted())
	st := s.State()
	assert.Equal(t, Idle, st.Phase)
	assert.Equal(t, StatusInitial, st.StatusText)
	assert.Nil(t, st.Results)
	assert.False(t, st.CanPrev())
	assert.False(t, st.CanNext())
	assertStatusInvariant(t, st)
}

func TestSubmitPopulated(t *testing.T) {
	f := newScripted()
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 1, Items: photos("d", 2)}
	s := New(testContext(t), f)

	s.Submit("dog")
	s.Wait()

	st := s.State()
	assert.Equal(t, Populated, st.Phase)
	assert.Equal(t, "", st.StatusText)
	require.Len(t, st.Items(), 2)
	assert.Equal(t, "https://live.staticflickr.com/65535/d1_abc_w.jpg", st.Items()[0].ThumbnailURL())
	assert.Equal(t, 1, st.Results.Page)
	assert.False(t, st.CanPrev())
	assert.False(t, st.CanNext())
	assertStatusInvariant(t, st)
}

func TestSubmitEmpty(t *testing.T) {
	f := newScripted()
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 0}
	s := New(testContext(t), f)

	s.Submit("dog")
	s.Wait()

	st := s.State()
	assert.Equal(t, Empty, st.Phase)
	assert.Equal(t, `No results found for "dog"`, st.StatusText)
	assert.Nil(t, st.Results)
	_, ok := s.GoToPage(1)
	assert.False(t, ok)
	assertStatusInvariant(t, st)
}

func TestSubmitFailed(t *testing.T) {
	f := newScripted()
	f.errs[Query{"dog", 1}] = errOffline
	s := New(testContext(t), f)

	s.Submit("dog")
	s.Wait()

	st := s.State()
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, StatusFailed, st.StatusText)
	assert.Nil(t, st.Results)
	assertStatusInvariant(t, st)
}

func TestSubmitResetsPageAndReplacesResults(t *testing.T) {
	f := newScripted()
	f.pages[Query{"cat", 1}] = ResultPage{TotalPages: 3, Items: photos("c1-", 20)}
	f.pages[Query{"cat", 2}] = ResultPage{TotalPages: 3, Items: photos("c2-", 20)}
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 1, Items: photos("d", 3)}
	s := New(testContext(t), f)

	s.Submit("cat")
	s.Wait()
	_, ok := s.GoToPage(1)
	require.True(t, ok)
	s.Wait()

	st := s.State()
	assert.Equal(t, Query{"cat", 2}, st.Query)
	require.Len(t, st.Items(), 20)
	assert.Equal(t, "c2-1", st.Items()[0].ID)
	assert.True(t, st.CanPrev())
	assert.True(t, st.CanNext())

	s.Submit("dog")
	assert.Equal(t, Query{"dog", 1}, s.State().Query)
	s.Wait()

	st = s.State()
	require.Len(t, st.Items(), 3)
	for _, p := range st.Items() {
		assert.Regexp(t, `^d\d$`, p.ID)
	}
	assert.Equal(t, []Query{{"cat", 1}, {"cat", 2}, {"dog", 1}}, f.calls)
}

func TestGoToPageBounds(t *testing.T) {
	f := newScripted()
	f.pages[Query{"cat", 1}] = ResultPage{TotalPages: 2, Items: photos("a", 1)}
	f.pages[Query{"cat", 2}] = ResultPage{TotalPages: 2, Items: photos("b", 1)}
	s := New(testContext(t), f)

	_, ok := s.GoToPage(1)
	assert.False(t, ok, "no page count before the first result")

	s.Submit("cat")
	s.Wait()

	_, ok = s.GoToPage(-1)
	assert.False(t, ok, "page 1 has no previous page")
	_, ok = s.GoToPage(2)
	assert.False(t, ok, "only single steps")
	_, ok = s.GoToPage(0)
	assert.False(t, ok)

	_, ok = s.GoToPage(1)
	require.True(t, ok)
	s.Wait()
	assert.Equal(t, 2, s.State().Query.Page)

	_, ok = s.GoToPage(1)
	assert.False(t, ok, "last page has no next page")

	_, ok = s.GoToPage(-1)
	assert.True(t, ok)
	s.Wait()
	assert.Equal(t, "a1", s.State().Items()[0].ID)
	assert.Len(t, f.calls, 3)
}

func TestGoToPageFailureKeepsResults(t *testing.T) {
	f := newScripted()
	f.pages[Query{"cat", 1}] = ResultPage{TotalPages: 2, Items: photos("a", 4)}
	f.errs[Query{"cat", 2}] = errOffline
	s := New(testContext(t), f)

	s.Submit("cat")
	s.Wait()
	_, ok := s.GoToPage(1)
	require.True(t, ok)
	s.Wait()

	st := s.State()
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, StatusFailed, st.StatusText)
	require.Len(t, st.Items(), 4)
	assert.Equal(t, 1, st.Results.Page)
	assert.Equal(t, 2, st.TotalPages)
}

func TestStaleSubmitDiscarded(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	cat := s.Submit("cat")
	dog := s.Submit("dog")

	assert.False(t, s.OnFetchComplete(cat, ResultPage{TotalPages: 1, Items: photos("c", 2)}, nil))
	st := s.State()
	assert.Equal(t, Loading, st.Phase)
	assert.Nil(t, st.Results)

	assert.True(t, s.OnFetchComplete(dog, ResultPage{TotalPages: 1, Items: photos("d", 1)}, nil))
	assert.False(t, s.OnFetchComplete(cat, ResultPage{TotalPages: 1, Items: photos("c", 2)}, nil))
	assert.False(t, s.OnFetchComplete(cat, ResultPage{}, errOffline))

	st = s.State()
	assert.Equal(t, Populated, st.Phase)
	assert.Equal(t, Query{"dog", 1}, st.Query)
	require.Len(t, st.Items(), 1)
	assert.Equal(t, "d1", st.Items()[0].ID)
}

func TestResubmitSameKeywordsIsNewRequest(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	first := s.Submit("dog")
	second := s.Submit("dog")
	assert.Equal(t, first.Query, second.Query)

	assert.False(t, s.OnFetchComplete(first, ResultPage{}, errOffline))
	assert.Equal(t, Loading, s.State().Phase)
	assert.True(t, s.OnFetchComplete(second, ResultPage{TotalPages: 1, Items: photos("d", 1)}, nil))
}

func TestStalePageDiscarded(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	first := s.Submit("cat")
	_, ok := s.GoToPage(1)
	assert.False(t, ok, "page count unknown while page 1 loads")
	require.True(t, s.OnFetchComplete(first, ResultPage{TotalPages: 5, Items: photos("p1-", 3)}, nil))

	page2, ok := s.GoToPage(1)
	require.True(t, ok)
	assert.Equal(t, 1, s.State().Results.Page, "previous page stays until the new one arrives")
	page3, ok := s.GoToPage(1)
	require.True(t, ok)
	assert.Equal(t, 3, page3.Query.Page)

	assert.True(t, s.OnFetchComplete(page3, ResultPage{TotalPages: 5, Items: photos("p3-", 3)}, nil))
	assert.False(t, s.OnFetchComplete(page2, ResultPage{TotalPages: 5, Items: photos("p2-", 3)}, nil))

	st := s.State()
	assert.Equal(t, 3, st.Query.Page)
	assert.Equal(t, "p3-1", st.Items()[0].ID)
}

func TestSubmitRaceArrivalOrder(t *testing.T) {
	for _, first := range []string{"dog", "cat"} {
		t.Run(first+" arrives first", func(t *testing.T) {
			f := &gatedFetcher{
				gates: map[string]chan struct{}{"cat": make(chan struct{}), "dog": make(chan struct{})},
				pages: map[string]ResultPage{
					"cat": {TotalPages: 1, Items: photos("c", 5)},
					"dog": {TotalPages: 1, Items: photos("d", 2)},
				},
			}
			s := New(testContext(t), f)
			s.Submit("cat")
			s.Submit("dog")

			close(f.gates[first])
			if first == "dog" {
				require.Eventually(t, func() bool {
					return s.State().Phase == Populated
				}, time.Second, time.Millisecond)
			}
			for k, gate := range f.gates {
				if k != first {
					close(gate)
				}
			}
			s.Wait()

			st := s.State()
			assert.Equal(t, "dog", st.Query.Keywords)
			require.Len(t, st.Items(), 2)
			assert.Equal(t, "d1", st.Items()[0].ID)
		})
	}
}

func TestSelectFetchesDetail(t *testing.T) {
	f := newScripted()
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 1, Items: photos("d", 2)}
	f.details["d2"] = PhotoDetail{Owner: Owner{Username: "rex"}, Description: "good boy"}
	s := New(testContext(t), f)

	_, ok := s.Select("d2")
	assert.False(t, ok, "nothing to select before results")

	s.Submit("dog")
	s.Wait()

	_, ok = s.Select("nope")
	assert.False(t, ok)

	_, ok = s.Select("d2")
	require.True(t, ok)
	s.Wait()

	st := s.State()
	require.NotNil(t, st.Selected)
	assert.Equal(t, "d2", st.Selected.ID)
	require.NotNil(t, st.Detail)
	assert.Equal(t, "rex", st.Detail.Owner.Username)
	assert.False(t, st.DetailLoading)
	assert.NoError(t, st.DetailErr)

	s.ClearSelection()
	st = s.State()
	assert.Nil(t, st.Selected)
	assert.Nil(t, st.Detail)
}

func TestSelectDetailFailure(t *testing.T) {
	f := newScripted()
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 1, Items: photos("d", 1)}
	s := New(testContext(t), f)
	s.Submit("dog")
	s.Wait()

	_, ok := s.Select("d1")
	require.True(t, ok)
	s.Wait()

	st := s.State()
	assert.ErrorIs(t, st.DetailErr, errOffline)
	assert.Nil(t, st.Detail)
	assert.Equal(t, "", st.StatusText, "detail failures do not touch the results lane")
	assert.Equal(t, Populated, st.Phase)
}

func TestStaleDetailDiscarded(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	search := s.Submit("dog")
	require.True(t, s.OnFetchComplete(search, ResultPage{TotalPages: 1, Items: photos("d", 3)}, nil))

	first, ok := s.Select("d1")
	require.True(t, ok)
	second, ok := s.Select("d2")
	require.True(t, ok)

	assert.False(t, s.OnDetailComplete(first, PhotoDetail{Title: "one"}, nil))
	assert.True(t, s.State().DetailLoading)
	assert.True(t, s.OnDetailComplete(second, PhotoDetail{Title: "two"}, nil))
	assert.False(t, s.OnDetailComplete(first, PhotoDetail{Title: "one"}, nil))
	assert.Equal(t, "two", s.State().Detail.Title)

	third, ok := s.Select("d3")
	require.True(t, ok)
	s.ClearSelection()
	assert.False(t, s.OnDetailComplete(third, PhotoDetail{Title: "three"}, nil))
	st := s.State()
	assert.Nil(t, st.Selected)
	assert.Nil(t, st.Detail)
}

func TestLanesAreIndependent(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	search := s.Submit("dog")
	require.True(t, s.OnFetchComplete(search, ResultPage{TotalPages: 2, Items: photos("d", 3)}, nil))

	detail, ok := s.Select("d1")
	require.True(t, ok)
	page2, ok := s.GoToPage(1)
	require.True(t, ok)

	assert.True(t, s.OnDetailComplete(detail, PhotoDetail{Title: "one"}, nil),
		"a page change does not stale the detail lane")
	_, ok = s.Select("d2")
	require.True(t, ok)
	assert.True(t, s.OnFetchComplete(page2, ResultPage{TotalPages: 2, Items: photos("e", 1)}, nil),
		"a selection does not stale the results lane")
}

func TestSubmitClosesSelection(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	dog := s.Submit("dog")
	require.True(t, s.OnFetchComplete(dog, ResultPage{TotalPages: 1, Items: photos("d", 2)}, nil))

	detail, ok := s.Select("d1")
	require.True(t, ok)
	require.NotNil(t, s.State().Selected)

	s.Submit("cat")
	st := s.State()
	assert.Nil(t, st.Selected)
	assert.Nil(t, st.Detail)
	assert.NoError(t, st.DetailErr)
	assert.False(t, st.DetailLoading)
	assert.Equal(t, Query{"cat", 1}, st.Query)

	assert.False(t, s.OnDetailComplete(detail, PhotoDetail{Title: "one"}, nil))
	assert.Nil(t, s.State().Detail)
}

// Loading after a populated page shows neither items nor a status line.
func TestSubmitAfterResultsIsLoading(t *testing.T) {
	s := New(testContext(t), blockingFetcher{})
	dog := s.Submit("dog")
	require.True(t, s.OnFetchComplete(dog, ResultPage{TotalPages: 3, Items: photos("d", 2)}, nil))

	s.Submit("cat")
	st := s.State()
	assert.Equal(t, Loading, st.Phase)
	assert.Equal(t, "", st.StatusText)
	assert.Empty(t, st.Items())
	assert.Nil(t, st.Results)
	assert.Zero(t, st.TotalPages)
	assert.False(t, st.CanNext())
}

func TestCancelledSessionFailsInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, blockingFetcher{})
	s.Submit("dog")

	cancel()
	s.Wait()

	st := s.State()
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, StatusFailed, st.StatusText)
}

func TestOnChangeVersions(t *testing.T) {
	f := newScripted()
	f.pages[Query{"dog", 1}] = ResultPage{TotalPages: 1, Items: photos("d", 1)}

	var mu sync.Mutex
	var seen []State
	s := New(testContext(t), f, WithOnChange(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	}))

	s.Submit("dog")
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, Loading, seen[0].Phase)
	assert.Equal(t, Populated, seen[1].Phase)
	assert.Less(t, seen[0].Version, seen[1].Version)
	assert.Equal(t, seen[1].Version, s.State().Version)
}
