package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/clawrubber/internal/policy"
	"github.com/hyperifyio/clawrubber/internal/queue"
	"github.com/hyperifyio/clawrubber/internal/store"
)

// TierRPS maps the named rate-limit tiers to requests per second.
var TierRPS = map[string]float64{
	"free": 1,
	"paid": 20,
	"base": 20,
	"pro":  50,
}

// RPSForTier resolves a tier name or a positive numeric override to an
// upstream request rate.
func RPSForTier(tier string) (float64, error) {
	t := strings.ToLower(strings.TrimSpace(tier))
	if rps, ok := TierRPS[t]; ok {
		return rps, nil
	}
	n, err := strconv.Atoi(t)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unknown rate-limit tier %q", tier)
	}
	return float64(n), nil
}

// Response is one completed search: the request id plus the persisted
// result records in rank order.
type Response struct {
	RequestID string
	Results   []store.SearchResultRecord
}

// Service runs searches through the FIFO queue, retries a 429 once, and
// persists every surviving result with its domain availability stamped.
type Service struct {
	Provider    Provider
	Store       *store.Store
	StaticAllow []string
	StaticBlock []string

	RetryOn429 bool
	RetryMax   int
	ResultTTL  time.Duration

	// OnRetry is invoked before each 429 retry; the metrics layer hooks it.
	OnRetry func()

	queue  *queue.Queue[[]Result]
	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewService builds a Service whose upstream queue is paced at rps and
// bounded at queueMax pending tasks.
func NewService(p Provider, st *store.Store, rps float64, queueMax int) *Service {
	return &Service{
		Provider:   p,
		Store:      st,
		RetryOn429: true,
		RetryMax:   1,
		ResultTTL:  30 * time.Minute,
		queue:      queue.New[[]Result](rps, queueMax),
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(250)) * time.Millisecond
		},
		sleep: sleepCtx,
	}
}

// QueueLen reports the number of pending upstream calls.
func (s *Service) QueueLen() int { return s.queue.Len() }

// Close stops the queue pump. Pending searches fail.
func (s *Service) Close() { s.queue.Close() }

// Search schedules the query, waits for its dispatch, and persists the
// outcome. Submission overflow surfaces as queue.ErrOverflow.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	q = q.withDefaults()
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("empty query")
	}
	fut, err := s.queue.Schedule(ctx, func(ctx context.Context) ([]Result, error) {
		return s.callWithRetry(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	hits, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return s.persist(q, hits)
}

func (s *Service) callWithRetry(ctx context.Context, q Query) ([]Result, error) {
	hits, err := s.Provider.Search(ctx, q)
	if err == nil {
		return hits, nil
	}
	for attempt := 0; attempt < s.RetryMax; attempt++ {
		var rle *RateLimitError
		if !s.RetryOn429 || !errors.As(err, &rle) {
			return nil, err
		}
		delay := retryDelay(rle, time.Now()) + s.jitter()
		log.Debug().
			Dur("delay", delay).
			Str("provider", s.Provider.Name()).
			Msg("upstream rate limited; retrying after delay")
		if s.OnRetry != nil {
			s.OnRetry()
		}
		if serr := s.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
		hits, err = s.Provider.Search(ctx, q)
		if err == nil {
			return hits, nil
		}
	}
	return nil, err
}

// retryDelay derives the wait from the server's headers: Retry-After in
// seconds, then X-RateLimit-Reset interpreted as delta seconds when small
// and epoch seconds otherwise, else one second.
func retryDelay(e *RateLimitError, now time.Time) time.Duration {
	if s, err := strconv.Atoi(strings.TrimSpace(e.RetryAfter)); err == nil && s >= 0 {
		return time.Duration(s) * time.Second
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(e.RateLimitReset), 10, 64); err == nil && v >= 0 {
		if v <= 1_000_000_000 {
			return time.Duration(v) * time.Second
		}
		d := time.Unix(v, 0).Sub(now)
		if d < 0 {
			d = 0
		}
		return d
	}
	return time.Second
}

func (s *Service) persist(q Query, hits []Result) (*Response, error) {
	allow, err := s.Store.EffectiveAllowlist(s.StaticAllow)
	if err != nil {
		return nil, fmt.Errorf("effective allowlist: %w", err)
	}
	block, err := s.Store.EffectiveBlocklist(s.StaticBlock)
	if err != nil {
		return nil, fmt.Errorf("effective blocklist: %w", err)
	}

	requestID := uuid.NewString()
	now := time.Now().UTC()
	records := make([]store.SearchResultRecord, 0, len(hits))
	for _, hit := range hits {
		u, err := url.Parse(strings.TrimSpace(hit.URL))
		if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Hostname() == "" {
			// Only https results can ever be fetched through the proxy.
			continue
		}
		rec := store.SearchResultRecord{
			ResultID:     uuid.NewString(),
			RequestID:    requestID,
			Query:        q.Text,
			Rank:         len(records) + 1,
			URL:          hit.URL,
			Domain:       strings.ToLower(u.Hostname()),
			Title:        hit.Title,
			Snippet:      hit.Snippet,
			Source:       hit.Source,
			Availability: store.AvailabilityAllowed,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.resultTTL()),
		}
		if v := policy.Evaluate(rec.Domain, allow, block); v.Action == policy.ActionBlock {
			rec.Availability = store.AvailabilityBlocked
			rec.BlockReason = v.Reason
		}
		if err := s.Store.StoreSearchResult(&rec); err != nil {
			return nil, fmt.Errorf("store search result: %w", err)
		}
		records = append(records, rec)
	}

	err = s.Store.StoreSearchRequest(&store.SearchRequestRecord{
		RequestID:   requestID,
		Query:       q.Text,
		ResultCount: len(records),
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("store search request: %w", err)
	}
	return &Response{RequestID: requestID, Results: records}, nil
}

func (s *Service) resultTTL() time.Duration {
	if s.ResultTTL > 0 {
		return s.ResultTTL
	}
	return 30 * time.Minute
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
