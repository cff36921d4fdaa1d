package inbox

import (
	"context"

	"github.com/tempinbox/tempinbox-go/pkg/mailapi"
)

// Account identifies the mailbox the view shows.
type Account struct {
	// ID is the mail API account id, also the realtime user id.
	ID string `json:"id"`

	// Address is the mailbox address, also the realtime topic.
	Address string `json:"email"`
}

// IsZero returns true if no account is set.
func (a Account) IsZero() bool {
	return a.ID == ""
}

// ViewState is what the presentation layer renders.
type ViewState struct {
	Account Account `json:"account"`

	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalItems  int `json:"totalItems"`

	// PendingNewCount is the new-message badge.
	PendingNewCount int `json:"pendingNewCount"`

	// NewMessagesAvailable asks the presentation layer to offer a jump to
	// page 1.
	NewMessagesAvailable bool `json:"newMessagesAvailable"`

	// Refreshing is set while a reconciliation cycle runs.
	Refreshing bool `json:"refreshing"`

	// Loading is set while an explicit page load runs.
	Loading bool `json:"loading"`

	// NotificationsUnavailable is set when realtime notifications are off
	// for good and the view relies on manual refresh or polling.
	NotificationsUnavailable bool `json:"notificationsUnavailable"`

	Items []mailapi.Message `json:"items"`
}

func (v ViewState) clone() ViewState {
	v.Items = append([]mailapi.Message(nil), v.Items...)
	return v
}

// Fetcher loads one page of an account's messages. Implemented by
// *mailapi.Client.
type Fetcher interface {
	FetchPage(ctx context.Context, accountID string, page int) (mailapi.Page, error)
}

// Sink renders the view. Render is called on the loop after every change.
type Sink interface {
	Render(v ViewState)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ViewState)

// Render calls f(v).
func (f SinkFunc) Render(v ViewState) { f(v) }

var _ Fetcher = (*mailapi.Client)(nil)
