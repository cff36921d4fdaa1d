package mailapi

import (
	"fmt"
	"time"
)

// Address is one parsed header address.
type Address struct {
	Address  string `json:"address,omitempty"`
	Personal string `json:"personal,omitempty"`
}

// Headers holds the parsed headers the client uses.
type Headers struct {
	From []Address `json:"from,omitempty"`
}

// Message is one inbox entry.
type Message struct {
	ID          string   `json:"id"`
	From        string   `json:"from"`
	Subject     string   `json:"subject"`
	Text        string   `json:"text,omitempty"`
	HTML        string   `json:"html,omitempty"`
	Date        string   `json:"date"`
	Read        bool     `json:"read"`
	MailHeaders *Headers `json:"mail_headers,omitempty"`
}

// Sender returns the sender with its display name when one is known.
func (m Message) Sender() string {
	if m.MailHeaders != nil && len(m.MailHeaders.From) > 0 && m.MailHeaders.From[0].Personal != "" {
		return fmt.Sprintf("%s <%s>", m.MailHeaders.From[0].Personal, m.From)
	}
	return m.From
}

// Preview returns the text body, the HTML body, or "" when both are empty.
func (m Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	return m.HTML
}

// Time parses Date. The second return value is false for unparseable dates.
func (m Message) Time() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, m.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Pagination describes the page a listing returned.
type Pagination struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
}

// DefaultItemsPerPage is the page size the API uses.
const DefaultItemsPerPage = 10

// EmptyPagination is the pagination of an inbox with no messages.
func EmptyPagination() Pagination {
	return Pagination{CurrentPage: 1, TotalPages: 1, ItemsPerPage: DefaultItemsPerPage}
}

// Page is one page of messages.
type Page struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}
