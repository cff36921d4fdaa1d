package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/tempinbox/tempinbox-go/pkg/dispatch"
	"github.com/tempinbox/tempinbox-go/pkg/log"
	"github.com/tempinbox/tempinbox-go/pkg/loop"
	"github.com/tempinbox/tempinbox-go/pkg/mailapi"
	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Default coordinator timing.
const (
	DefaultSettleDelay   = 200 * time.Millisecond
	DefaultFallbackDelay = time.Second
	DefaultFetchTimeout  = 15 * time.Second
)

// Config controls reconciliation timing.
type Config struct {
	// SettleDelay lets the server catch up before page 1 is fetched.
	SettleDelay time.Duration

	// FallbackDelay precedes the single retry after an empty or failed fetch.
	FallbackDelay time.Duration

	// FetchTimeout bounds one page fetch.
	FetchTimeout time.Duration

	// PollInterval re-fetches page 1 while notifications are unavailable.
	// Zero disables polling.
	PollInterval time.Duration
}

// DefaultConfig returns the default timing.
func DefaultConfig() Config {
	return Config{
		SettleDelay:   DefaultSettleDelay,
		FallbackDelay: DefaultFallbackDelay,
		FetchTimeout:  DefaultFetchTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.FallbackDelay < 0 {
		c.FallbackDelay = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	return c
}

// Stats counts reconciliation outcomes.
type Stats struct {
	Notifications uint64
	Cycles        uint64
	FollowUps     uint64
	Fallbacks     uint64
	Abandoned     uint64
	FetchErrors   uint64
	Polls         uint64
}

// cycle is one in-flight reconciliation.
type cycle struct {
	id       uint64
	timer    *loop.Timer
	followUp bool
}

// Coordinator owns the ViewState and decides how notifications reach it.
type Coordinator struct {
	l       *loop.Loop
	fetcher Fetcher
	sink    Sink
	config  Config
	logger  *slog.Logger
	capture log.Logger

	state ViewState

	cycle    *cycle
	cycleSeq uint64

	// loadSeq invalidates page loads superseded by a later load or account.
	loadSeq uint64

	pollTimer *loop.Timer
	closed    bool

	stats Stats
}

var _ dispatch.Observer = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator with an empty view.
func NewCoordinator(l *loop.Loop, fetcher Fetcher, sink Sink, config Config, logger *slog.Logger, capture log.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = SinkFunc(func(ViewState) {})
	}
	return &Coordinator{
		l:       l,
		fetcher: fetcher,
		sink:    sink,
		config:  config.withDefaults(),
		logger:  logger,
		capture: log.OrNoop(capture),
		state:   ViewState{CurrentPage: 1, TotalPages: 1},
	}
}

// View returns a copy of the current view.
func (c *Coordinator) View() ViewState {
	return c.state.clone()
}

// Stats returns the reconciliation counters.
func (c *Coordinator) Stats() Stats {
	return c.stats
}

// OnNotification handles one dispatched notification.
func (c *Coordinator) OnNotification(n wire.Notification) error {
	if c.closed {
		return nil
	}
	c.stats.Notifications++
	c.state.PendingNewCount++
	c.sync(log.SyncNotified, c.state.CurrentPage, 0)

	if c.state.Account.IsZero() {
		c.logger.Debug("inbox: notification without account")
		c.render()
		return nil
	}

	switch {
	case c.cycle != nil:
		if !c.cycle.followUp {
			c.cycle.followUp = true
			c.stats.FollowUps++
		}
	case c.state.CurrentPage == 1:
		c.startCycle()
	default:
		c.state.NewMessagesAvailable = true
		c.sync(log.SyncBadge, c.state.CurrentPage, 0)
	}
	c.render()
	return nil
}

// Navigate shows page. Navigating to page 1 clears the badge immediately.
func (c *Coordinator) Navigate(page int) {
	if c.closed {
		return
	}
	if page < 1 {
		page = 1
	}
	if page > c.state.TotalPages && c.state.TotalPages >= 1 {
		page = c.state.TotalPages
	}
	c.state.CurrentPage = page
	if page == 1 {
		c.state.PendingNewCount = 0
		c.state.NewMessagesAvailable = false
	}
	c.load(page)
}

// Next shows the next page if there is one.
func (c *Coordinator) Next() {
	if c.state.CurrentPage < c.state.TotalPages {
		c.Navigate(c.state.CurrentPage + 1)
	}
}

// Prev shows the previous page if there is one.
func (c *Coordinator) Prev() {
	if c.state.CurrentPage > 1 {
		c.Navigate(c.state.CurrentPage - 1)
	}
}

// Refresh reloads the current page.
func (c *Coordinator) Refresh() {
	if c.closed {
		return
	}
	c.load(c.state.CurrentPage)
}

// SetAccount switches the view to account. The view resets to page 1,
// pending timers are cancelled and page 1 is loaded. Setting the current
// account again is a no-op.
func (c *Coordinator) SetAccount(account Account) {
	if c.closed || account == c.state.Account {
		return
	}
	c.cancelCycle()
	c.loadSeq++

	unavailable := c.state.NotificationsUnavailable
	c.state = ViewState{
		Account:                  account,
		CurrentPage:              1,
		TotalPages:               1,
		NotificationsUnavailable: unavailable,
	}
	c.logger.Info("inbox: account set", slog.String("account_id", account.ID))

	if account.IsZero() {
		c.stopPoll()
		c.render()
		return
	}
	c.load(1)
	c.armPoll()
}

// SetNotificationsAvailable records whether realtime notifications work.
// While they do not, page 1 is polled every PollInterval.
func (c *Coordinator) SetNotificationsAvailable(available bool) {
	if c.closed || c.state.NotificationsUnavailable == !available {
		return
	}
	c.state.NotificationsUnavailable = !available
	if available {
		c.stopPoll()
	} else {
		c.logger.Info("inbox: notifications unavailable, relying on refresh")
		c.armPoll()
	}
	c.render()
}

// Close stops every timer. Fetches completing later are ignored.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancelCycle()
	c.stopPoll()
	c.loadSeq++
}

func (c *Coordinator) startCycle() {
	c.cycleSeq++
	c.stats.Cycles++
	cy := &cycle{id: c.cycleSeq}
	c.cycle = cy
	c.state.Refreshing = true
	cy.timer = c.l.AfterFunc(c.config.SettleDelay, func() { c.cycleFetch(cy.id, false) })
}

// cycleFetch is the fetch step of a cycle. It reads the view as it is now.
func (c *Coordinator) cycleFetch(id uint64, fallback bool) {
	if !c.cycleCurrent(id) {
		return
	}
	if c.state.CurrentPage != 1 {
		c.abandonCycle()
		return
	}

	account := c.state.Account
	c.sync(log.SyncFetch, 1, 0)
	c.l.Go(func(ctx context.Context) func() {
		page, err := c.fetch(ctx, account.ID, 1)
		return func() { c.onCycleFetched(id, account, fallback, page, err) }
	})
}

func (c *Coordinator) onCycleFetched(id uint64, account Account, fallback bool, page mailapi.Page, err error) {
	if !c.cycleCurrent(id) {
		return
	}
	if account != c.state.Account || c.state.CurrentPage != 1 {
		c.abandonCycle()
		return
	}
	if err != nil {
		c.stats.FetchErrors++
		c.logger.Warn("inbox: refresh fetch failed", slog.Any("error", err))
	}

	if err == nil && len(page.Messages) > 0 {
		c.apply(page)
		c.settleCycle()
		return
	}

	if !fallback {
		c.stats.Fallbacks++
		c.sync(log.SyncFallback, 1, 0)
		c.cycle.timer = c.l.AfterFunc(c.config.FallbackDelay, func() { c.cycleFetch(id, true) })
		return
	}

	// Give up: show what the fetch returned, or an empty inbox on failure.
	if err != nil {
		page = mailapi.Page{Pagination: mailapi.EmptyPagination()}
	}
	c.apply(page)
	c.settleCycle()
}

func (c *Coordinator) settleCycle() {
	followUp := c.cycle.followUp
	c.cycle = nil
	c.state.Refreshing = false
	c.state.PendingNewCount = 0
	c.state.NewMessagesAvailable = false
	c.sync(log.SyncSettled, 1, len(c.state.Items))

	if followUp && c.state.CurrentPage == 1 {
		c.startCycle()
	}
	c.render()
}

func (c *Coordinator) abandonCycle() {
	c.cancelCycle()
	c.stats.Abandoned++
	c.state.Refreshing = false
	c.state.NewMessagesAvailable = c.state.PendingNewCount > 0
	c.sync(log.SyncAbandoned, c.state.CurrentPage, 0)
	c.render()
}

func (c *Coordinator) cancelCycle() {
	if c.cycle == nil {
		return
	}
	c.cycle.timer.Stop()
	c.cycle = nil
	c.state.Refreshing = false
}

func (c *Coordinator) cycleCurrent(id uint64) bool {
	return !c.closed && c.cycle != nil && c.cycle.id == id
}

// load fetches page for display. A failed load shows an empty inbox.
func (c *Coordinator) load(page int) {
	if c.state.Account.IsZero() {
		c.render()
		return
	}
	c.loadSeq++
	seq := c.loadSeq
	account := c.state.Account
	c.state.Loading = true
	c.render()

	c.l.Go(func(ctx context.Context) func() {
		result, err := c.fetch(ctx, account.ID, page)
		return func() {
			if c.closed || seq != c.loadSeq || account != c.state.Account {
				return
			}
			c.state.Loading = false
			if err != nil {
				c.stats.FetchErrors++
				c.logger.Warn("inbox: page load failed", slog.Int("page", page), slog.Any("error", err))
				c.state.Items = nil
				c.render()
				return
			}
			if c.state.CurrentPage == page {
				c.apply(result)
			}
			c.render()
		}
	})
}

func (c *Coordinator) armPoll() {
	c.stopPoll()
	if c.closed || c.config.PollInterval <= 0 || !c.state.NotificationsUnavailable || c.state.Account.IsZero() {
		return
	}
	c.pollTimer = c.l.AfterFunc(c.config.PollInterval, c.poll)
}

func (c *Coordinator) stopPoll() {
	c.pollTimer.Stop()
	c.pollTimer = nil
}

// poll quietly refreshes page 1. Failures keep the current items.
func (c *Coordinator) poll() {
	if c.closed || !c.state.NotificationsUnavailable {
		return
	}
	defer c.armPoll()
	if c.state.CurrentPage != 1 || c.cycle != nil || c.state.Loading {
		return
	}

	c.stats.Polls++
	c.sync(log.SyncPoll, 1, 0)
	seq := c.loadSeq
	account := c.state.Account
	c.l.Go(func(ctx context.Context) func() {
		result, err := c.fetch(ctx, account.ID, 1)
		return func() {
			if c.closed || seq != c.loadSeq || account != c.state.Account || c.state.CurrentPage != 1 {
				return
			}
			if err != nil {
				c.stats.FetchErrors++
				c.logger.Debug("inbox: poll failed", slog.Any("error", err))
				return
			}
			c.apply(result)
			c.render()
		}
	})
}

func (c *Coordinator) fetch(ctx context.Context, accountID string, page int) (mailapi.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()
	return c.fetcher.FetchPage(ctx, accountID, page)
}

func (c *Coordinator) apply(page mailapi.Page) {
	p := page.Pagination
	if p.TotalPages < 1 {
		p.TotalPages = 1
	}
	c.state.Items = append([]mailapi.Message(nil), page.Messages...)
	c.state.TotalPages = p.TotalPages
	c.state.TotalItems = p.TotalItems
	c.sync(log.SyncFetched, c.state.CurrentPage, len(page.Messages))
}

func (c *Coordinator) render() {
	c.sink.Render(c.state.clone())
}

func (c *Coordinator) sync(action string, page, items int) {
	c.capture.Log(log.Event{
		Timestamp: c.l.Clock().Now(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerInbox,
		Category:  log.CategorySync,
		AccountID: c.state.Account.ID,
		Mailbox:   c.state.Account.Address,
		Sync: &log.SyncEvent{
			Action:  action,
			Page:    page,
			Items:   items,
			Pending: c.state.PendingNewCount,
		},
	})
}
