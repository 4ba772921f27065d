package event

import "fmt"

// Message is a control message sent from the file watcher to the dispatcher.
type Message int

const (
	Update Message = iota + 1 // A dependency changed; run the module again
	Close                     // The watch session is ending; stop dispatching
)

func (m Message) String() string {
	switch m {
	case Update:
		return "update"
	case Close:
		return "close"
	}
	return fmt.Sprintf("message(%d)", int(m))
}

// Op is the kind of filesystem change. Only the path of a change is used for
// classification; Op is carried for logging.
type Op int

const (
	Added Op = iota + 1
	Modified
	Removed
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Change is a single (kind, path) pair.
type Change struct {
	Op   Op
	Path string
}

// Batch is a set of changes delivered together as one notification.
type Batch []Change

// Paths returns the paths of the batch in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b))
	for i, c := range b {
		paths[i] = c.Path
	}
	return paths
}
