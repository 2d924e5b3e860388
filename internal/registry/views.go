package registry

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// SubscriberView is a read-only projection of one subscription.
type SubscriberView struct {
	ClientID      string     `json:"clientId"`
	Channel       string     `json:"channel"`
	SourceAddress string     `json:"sourceAddress"`
	ConnectedAt   *time.Time `json:"connectedAt"`
}

// ChannelStat summarises one channel.
type ChannelStat struct {
	Count       int              `json:"count"`
	Subscribers []SubscriberView `json:"subscribers"`
}

// ListSubscribers returns views for channel, or for all channels when channel
// is empty. Results are ordered by channel, then client ID.
func (r *Registry) ListSubscribers(channel string) []SubscriberView {
	r.mu.RLock()
	var views []SubscriberView
	if channel != "" {
		views = make([]SubscriberView, 0, len(r.channels[channel]))
		for _, s := range r.channels[channel] {
			views = append(views, s.view())
		}
	} else {
		views = make([]SubscriberView, 0, len(r.subs))
		for _, s := range r.subs {
			views = append(views, s.view())
		}
	}
	r.mu.RUnlock()

	sortViews(views)
	return views
}

// ChannelStats returns a snapshot of every channel with at least one subscriber.
func (r *Registry) ChannelStats() map[string]ChannelStat {
	r.mu.RLock()
	stats := make(map[string]ChannelStat, len(r.channels))
	for name, set := range r.channels {
		views := make([]SubscriberView, 0, len(set))
		for _, s := range set {
			views = append(views, s.view())
		}
		stats[name] = ChannelStat{Count: len(set), Subscribers: views}
	}
	r.mu.RUnlock()

	for _, stat := range stats {
		sortViews(stat.Subscribers)
	}
	return stats
}

func (s *subscriber) view() SubscriberView {
	return SubscriberView{
		ClientID:      s.clientID,
		Channel:       s.channel,
		SourceAddress: s.address,
		ConnectedAt:   ConnectedAt(s.clientID),
	}
}

// ConnectedAt parses the Unix millisecond timestamp carried as the final
// "-"-delimited segment of a client ID. It returns nil when the segment is
// missing or not a positive integer.
func ConnectedAt(clientID string) *time.Time {
	segment := clientID
	if idx := strings.LastIndex(clientID, "-"); idx != -1 {
		segment = clientID[idx+1:]
	}
	ms, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func sortViews(views []SubscriberView) {
	slices.SortFunc(views, func(a, b SubscriberView) int {
		if c := strings.Compare(a.Channel, b.Channel); c != 0 {
			return c
		}
		return strings.Compare(a.ClientID, b.ClientID)
	})
}
