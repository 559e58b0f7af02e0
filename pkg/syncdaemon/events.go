package syncdaemon

// EventType names one kind of watcher-observed change, mirroring the
// original implementation's SyncApiEventType enum.
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
)

// Side names which half of a job a watcher event came from.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// Event is one change observed on a job's source or target side.
type Event struct {
	Side Side
	Type EventType
	Path string
}

// activeEventFilter decides which event types a job currently cares
// about. An empty set means "all", per spec.md §4.7's active-events
// command.
type activeEventFilter struct {
	types map[EventType]bool
}

func newActiveEventFilter(types []EventType) activeEventFilter {
	if len(types) == 0 {
		return activeEventFilter{}
	}
	m := make(map[EventType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return activeEventFilter{types: m}
}

func (f activeEventFilter) allows(t EventType) bool {
	if len(f.types) == 0 {
		return true
	}
	return f.types[t]
}
