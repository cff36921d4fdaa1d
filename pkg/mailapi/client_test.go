package mailapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageJSON = `{
  "messages": [
    {"id":"m1","from":"a@example.com","subject":"Hello","text":"hi there","date":"2026-10-18T09:00:00Z","read":false,
     "mail_headers":{"from":[{"address":"a@example.com","personal":"Alice"}]}},
    {"id":"m2","from":"b@example.com","subject":"Re","html":"<p>x</p>","date":"garbage","read":true}
  ],
  "pagination": {"current_page":2,"total_pages":3,"total_items":21,"items_per_page":10}
}`

func TestFetchPage(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotCorrelation string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pageJSON))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/", Options{Token: "secret"})
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), "acc 1", 2)
	require.NoError(t, err)

	assert.Equal(t, "/accounts/acc 1/messages", gotPath)
	assert.Equal(t, "page=2", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.NotEmpty(t, gotCorrelation)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, Pagination{CurrentPage: 2, TotalPages: 3, TotalItems: 21, ItemsPerPage: 10}, page.Pagination)

	m1, m2 := page.Messages[0], page.Messages[1]
	assert.Equal(t, "Alice <a@example.com>", m1.Sender())
	assert.Equal(t, "hi there", m1.Preview())
	ts, ok := m1.Time()
	assert.True(t, ok)
	assert.Equal(t, 9, ts.Hour())

	assert.Equal(t, "b@example.com", m2.Sender())
	assert.Equal(t, "<p>x</p>", m2.Preview())
	_, ok = m2.Time()
	assert.False(t, ok)
}

func TestFetchPageDefaultsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
	assert.Equal(t, 1, page.Pagination.TotalPages)
}

func TestFetchPageRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), "a", 1)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchPageHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"account_not_found","message":"no such account"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{})
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), "gone", 1)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "account_not_found", httpErr.Code)
	assert.Contains(t, err.Error(), "fetching page 1")
}

func TestFetchPageNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{MaxRetries: -1})
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), "a", 1)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "Bad Gateway", httpErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchPageContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Options{BaseDelay: time.Hour, MaxDelay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchPage(ctx, "a", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://x", "http://", "::"} {
		if _, err := NewClient(raw, Options{}); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("NewClient(%q): got %v, want ErrInvalidArgument", raw, err)
		}
	}
	c, err := NewClient("https://mail.example.com", Options{})
	require.NoError(t, err)
	_, err = c.FetchPage(context.Background(), " ", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetryDelay(t *testing.T) {
	c, err := NewClient("https://mail.example.com", Options{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 200*time.Millisecond, c.retryDelay(2, ""))
	assert.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	assert.Equal(t, time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "120"))
	assert.Equal(t, 0*time.Second, parseRetryAfter("soon"))
}
