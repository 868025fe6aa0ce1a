package dispatch

// RequestStatus is the lifecycle state of an emergency assistance request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestDispatched RequestStatus = "dispatched"
	RequestArrived    RequestStatus = "arrived"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestDispatched, RequestCancelled},
	RequestDispatched: {RequestArrived, RequestCancelled},
	RequestArrived:    {RequestCompleted, RequestCancelled},
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
