package stock

type Status string

const (
	StatusFree     Status = "free"
	StatusReserved Status = "reserved"
	StatusSold     Status = "sold"
)

var validNext = map[Status]map[Status]bool{
	StatusFree:     {StatusReserved: true},
	StatusReserved: {StatusFree: true, StatusSold: true},
	StatusSold:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
