package store

import (
	"time"

	"github.com/hyperifyio/clawrubber/internal/injection"
)

// Decision values recorded on fetch events.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Availability values recorded on search results.
const (
	AvailabilityAllowed = "allowed"
	AvailabilityBlocked = "blocked"
)

// TraceKind says how a fetch was initiated.
type TraceKind string

const (
	TraceSearchResultFetch TraceKind = "search-result-fetch"
	TraceDirectWebFetch    TraceKind = "direct-web-fetch"
	TraceUnknown           TraceKind = "unknown"
)

// SearchRequestRecord remembers one search call.
type SearchRequestRecord struct {
	RequestID   string    `json:"requestId"`
	Query       string    `json:"query"`
	ResultCount int       `json:"resultCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SearchResultRecord caches one ranked result of a prior search so a later
// fetch can be tied back to it. Records are immutable after creation and
// readable only until ExpiresAt.
type SearchResultRecord struct {
	ResultID     string    `json:"resultId"`
	RequestID    string    `json:"requestId"`
	Query        string    `json:"query"`
	Rank         int       `json:"rank"`
	URL          string    `json:"url"`
	Domain       string    `json:"domain"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	Source       string    `json:"source"`
	Availability string    `json:"availability"`
	BlockReason  string    `json:"blockReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the record is past its lifetime at t.
func (r *SearchResultRecord) Expired(t time.Time) bool {
	return !r.ExpiresAt.After(t)
}

// FetchEvent is one complete trace of the fetch pipeline: what was
// requested, what the policy decided and why. At most one of BlockedBy and
// AllowedBy is set; both empty means an unclassified allow.
type FetchEvent struct {
	ID              uint64    `json:"id"`
	ResultID        string    `json:"resultId,omitempty"`
	URL             string    `json:"url"`
	Domain          string    `json:"domain"`
	Decision        string    `json:"decision"`
	Score           int       `json:"score"`
	Flags           []string  `json:"flags"`
	Reason          string    `json:"reason,omitempty"`
	BlockedBy       string    `json:"blockedBy,omitempty"`
	AllowedBy       string    `json:"allowedBy,omitempty"`
	DomainAction    string    `json:"domainAction"`
	MediumThreshold int       `json:"mediumThreshold"`
	BlockThreshold  int       `json:"blockThreshold"`
	Bypassed        bool      `json:"bypassed"`
	DurationMs      int64     `json:"durationMs"`
	TraceKind       TraceKind `json:"traceKind"`
	SearchRequestID string    `json:"searchRequestId,omitempty"`
	SearchQuery     string    `json:"searchQuery,omitempty"`
	SearchRank      int       `json:"searchRank,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// FlaggedPayload preserves the evidence behind a block decision, including
// a bounded slice of the sanitized text that was scored.
type FlaggedPayload struct {
	FetchEventID uint64               `json:"fetchEventId"`
	ResultID     string               `json:"resultId,omitempty"`
	URL          string               `json:"url"`
	Domain       string               `json:"domain"`
	Score        int                  `json:"score"`
	Flags        []string             `json:"flags"`
	Evidence     []injection.Evidence `json:"evidence"`
	Reason       string               `json:"reason"`
	Content      string               `json:"content"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// RuntimeDomainEntry is one persisted allowlist or blocklist domain.
type RuntimeDomainEntry struct {
	Domain  string    `json:"domain"`
	Note    string    `json:"note,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}
