package cache

import (
	"fmt"

	"github.com/dkeye/Dispatch/internal/domain"
)

type Kind string

const (
	KindCalls       Kind = "calls"
	KindActiveCalls Kind = "active_calls"
	KindCall        Kind = "call"
	KindTranscript  Kind = "transcript"
	KindAnalytics   Kind = "analytics"
)

// Key addresses one cached query. Only the fields relevant to Kind are set.
type Key struct {
	Kind    Kind
	ID      domain.CallID
	Filters domain.CallFilters
	Days    int
}

func CallsKey(f domain.CallFilters) Key  { return Key{Kind: KindCalls, Filters: f} }
func ActiveCallsKey() Key                { return Key{Kind: KindActiveCalls} }
func CallKey(id domain.CallID) Key       { return Key{Kind: KindCall, ID: id} }
func TranscriptKey(id domain.CallID) Key { return Key{Kind: KindTranscript, ID: id} }
func AnalyticsKey(days int) Key          { return Key{Kind: KindAnalytics, Days: days} }

func (k Key) String() string {
	switch k.Kind {
	case KindCalls:
		return fmt.Sprintf("calls?%s", k.Filters.Values().Encode())
	case KindCall, KindTranscript:
		return fmt.Sprintf("%s/%s", k.Kind, k.ID)
	case KindAnalytics:
		return fmt.Sprintf("analytics/%d", k.Days)
	default:
		return string(k.Kind)
	}
}
