package orders

import "strings"

type Status string

const (
	StatusNew       Status = "New"
	StatusShipped   Status = "Shipped"
	StatusDelivered Status = "Delivered"
	StatusCanceled  Status = "Canceled"
)

var validNext = map[Status]map[Status]bool{
	StatusNew:       {StatusShipped: true, StatusCanceled: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCanceled:  {},
}

// CanTransition reports whether an order in status from may move to status to.
// Unknown statuses on either side are rejected.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for st := range validNext {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

func (s Status) String() string { return string(s) }

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return len(validNext[s]) == 0 }

// Advances reports whether a status cached as from may be replaced by to:
// either the same status or a legal next step. An empty from always advances.
func Advances(from, to Status) bool {
	return from == "" || from == to || CanTransition(from, to)
}

// Predecessors lists the statuses that may be replaced by to, to included.
func Predecessors(to Status) []Status {
	out := []Status{to}
	for _, from := range []Status{StatusNew, StatusShipped, StatusDelivered, StatusCanceled} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
