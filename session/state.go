package session

type Phase int

const (
	Idle Phase = iota
	Loading
	Populated
	Empty
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Populated:
		return "populated"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is an immutable snapshot of a Session.
type State struct {
	Version    uint64
	Phase      Phase
	StatusText string
	Query      Query
	// TotalPages is zero until a search returned photos.
	TotalPages int
	Results    *ResultPage

	Selected      *PhotoSummary
	Detail        *PhotoDetail
	DetailErr     error
	DetailLoading bool
}

func (st State) CanPrev() bool {
	return st.TotalPages > 0 && st.Query.Page > 1
}

func (st State) CanNext() bool {
	return st.TotalPages > 0 && st.Query.Page < st.TotalPages
}

// Items returns the photos on screen, nil when there are none.
func (st State) Items() []PhotoSummary {
	if st.Results == nil {
		return nil
	}
	return st.Results.Items
}

// lane tracks the newest request of one fetch stream.
type lane struct {
	gen uint64
}

func (l *lane) next() uint64 {
	l.gen++
	return l.gen
}

func (l *lane) current(gen uint64) bool {
	return gen == l.gen
}
