package capture

import "fmt"

// Link describes the interface behind a handle.
type Link struct {
	Name  string
	Index int
	MTU   int
	Up    bool
}

func (l *Link) String() string {
	state := "down"
	if l.Up {
		state = "up"
	}
	return fmt.Sprintf("%s(index:%d, mtu:%d, %s)", l.Name, l.Index, l.MTU, state)
}
