// Package mailapi is a client for the mail API that owns message storage.
//
// Only page listing is implemented:
//
//	GET {base}/accounts/{id}/messages?page=N
//
// Transient failures (transport errors, 429 and 5xx) are retried with a
// capped exponential delay that honours Retry-After. Other non-2xx answers
// are returned as *HTTPError.
package mailapi
