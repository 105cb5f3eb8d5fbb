// internal/liveauth/timing.go
package liveauth

import (
	"fmt"
	"math/rand"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Client login time bounds, in milliseconds.
const (
	minClientLoginTime  = 20000
	clientLoginJitterMs = 1000
)

// NavigationTiming mirrors the browser navigation-timing record the login page
// reports back. Field order is the wire order.
type NavigationTiming struct {
	NavigationStart            int64 `json:"navigationStart"`
	UnloadEventStart           int64 `json:"unloadEventStart"`
	UnloadEventEnd             int64 `json:"unloadEventEnd"`
	RedirectStart              int64 `json:"redirectStart"`
	RedirectEnd                int64 `json:"redirectEnd"`
	FetchStart                 int64 `json:"fetchStart"`
	DomainLookupStart          int64 `json:"domainLookupStart"`
	DomainLookupEnd            int64 `json:"domainLookupEnd"`
	ConnectStart               int64 `json:"connectStart"`
	ConnectEnd                 int64 `json:"connectEnd"`
	SecureConnectionStart      int64 `json:"secureConnectionStart"`
	RequestStart               int64 `json:"requestStart"`
	ResponseStart              int64 `json:"responseStart"`
	ResponseEnd                int64 `json:"responseEnd"`
	DomLoading                 int64 `json:"domLoading"`
	DomInteractive             int64 `json:"domInteractive"`
	DomContentLoadedEventStart int64 `json:"domContentLoadedEventStart"`
	DomContentLoadedEventEnd   int64 `json:"domContentLoadedEventEnd"`
	DomComplete                int64 `json:"domComplete"`
	LoadEventStart             int64 `json:"loadEventStart"`
	LoadEventEnd               int64 `json:"loadEventEnd"`
}

// NewNavigationTiming builds the record around a single timestamp t (ms since epoch).
func NewNavigationTiming(t int64) NavigationTiming {
	return NavigationTiming{
		NavigationStart:            t,
		UnloadEventStart:           t + 209,
		UnloadEventEnd:             t + 210,
		RedirectStart:              0,
		RedirectEnd:                0,
		FetchStart:                 t + 73,
		DomainLookupStart:          t + 73,
		DomainLookupEnd:            t + 130,
		ConnectStart:               t + 130,
		ConnectEnd:                 t + 130,
		SecureConnectionStart:      t + 210,
		RequestStart:               t + 183,
		ResponseStart:              t + 205,
		ResponseEnd:                t + 205,
		DomLoading:                 t + 208,
		DomInteractive:             t + 406,
		DomContentLoadedEventStart: t + 420,
		DomContentLoadedEventEnd:   t + 420,
		DomComplete:                t + 422,
		LoadEventStart:             t + 422,
		LoadEventEnd:               0,
	}
}

// JSON serializes the record compactly.
func (n NavigationTiming) JSON() (string, error) {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(n)
	if err != nil {
		return "", fmt.Errorf("failed to encode navigation timing: %w", err)
	}
	return out, nil
}

// clock supplies the timestamp and randomness for the timing payload.
// The default source is safe for concurrent use.
type clock struct {
	now  func() time.Time
	intn func(n int) int
}

func newClock() clock {
	return clock{now: time.Now, intn: rand.Intn}
}

// timestampMs is the current time in milliseconds since the epoch.
func (c clock) timestampMs() int64 {
	return c.now().UnixMilli()
}

// clientLoginTime returns a value in [20000, 21000).
func (c clock) clientLoginTime() int {
	return minClientLoginTime + c.intn(clientLoginJitterMs)
}
