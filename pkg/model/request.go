package model

// Request is a single outbound HTTP request: method, target URL,
// headers, and an optional body. Requests are immutable once built;
// engines never mutate Header or Body in place.
type Request struct {
	Method     string
	URL        URL
	Header     Header
	Body       BodyStream
	Extensions RequestExtensions
}

// Origin returns the origin this request must be dispatched to.
func (r Request) Origin() Origin {
	return r.URL.Origin()
}
