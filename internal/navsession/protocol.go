package navsession

import "github.com/Zachkp/portfolio/internal/section"

// Client to server message types.
const (
	MsgHello      = "hello"
	MsgVisibility = "visibility"
	MsgHashChange = "hashchange"
)

// Server to client command types.
const (
	CmdObserve         = "observe"
	CmdDisconnect      = "disconnect"
	CmdActive          = "active"
	CmdReplaceFragment = "replace_fragment"
)

// Message is sent by the browser glue.
type Message struct {
	Type     string            `json:"type"`
	Fragment string            `json:"fragment,omitempty"`
	IDs      []string          `json:"ids,omitempty"`
	Readings []section.Reading `json:"readings,omitempty"`
	// ObserverSupported is false when the browser has no
	// IntersectionObserver. Absent means supported.
	ObserverSupported *bool `json:"observer_supported,omitempty"`
}

// Hello describes the page a session starts on.
type Hello struct {
	Fragment          string
	IDs               []string
	ObserverSupported bool
}

func (m Message) hello() Hello {
	return Hello{
		Fragment:          m.Fragment,
		IDs:               m.IDs,
		ObserverSupported: m.ObserverSupported == nil || *m.ObserverSupported,
	}
}

// Command is sent to the browser glue, which owns the DOM.
type Command struct {
	Type       string    `json:"type"`
	ID         string    `json:"id,omitempty"`
	IDs        []string  `json:"ids,omitempty"`
	RootMargin string    `json:"root_margin,omitempty"`
	Thresholds []float64 `json:"thresholds,omitempty"`
}
