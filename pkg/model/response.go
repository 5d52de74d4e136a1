package model

// Response is a single inbound HTTP response. Body is nil until the
// engine has finished receiving headers; reading Body to exhaustion
// (or closing it early) is what signals the owning connection may be
// reused.
type Response struct {
	Status     int
	Header     Header
	Body       BodyStream
	Extensions ResponseExtensions
}
