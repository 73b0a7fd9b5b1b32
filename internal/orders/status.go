package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// pending is the only non-terminal state; nothing leaves a terminal state.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusExpired: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusExpired:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusCancelled
}
