package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// nsqStats is the part of nsqd's /stats?format=json document we read.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd and mirrors channel depth for a set of topics.
type BacklogMonitor struct {
	statsURL string
	topics   map[string]bool
	channel  string
	client   *http.Client
}

// NewBacklogMonitor watches channel on topics of the nsqd whose HTTP API
// listens at httpAddr (host:port or a full URL).
func NewBacklogMonitor(httpAddr, channel string, topics ...string) *BacklogMonitor {
	base := strings.TrimSuffix(httpAddr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	m := &BacklogMonitor{
		statsURL: base + "/stats?format=json",
		topics:   make(map[string]bool, len(topics)),
		channel:  channel,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, t := range topics {
		m.topics[t] = true
	}
	return m
}

// NsqdHTTPAddr derives nsqd's HTTP address from its TCP address using the
// default port pair 4150/4151.
func NsqdHTTPAddr(tcpAddr string) string {
	return strings.Replace(tcpAddr, ":4150", ":4151", 1)
}

// Run polls every interval until ctx is done; errors go to onErr.
func (m *BacklogMonitor) Run(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Update(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

// Update fetches stats once and sets the channel gauges.
func (m *BacklogMonitor) Update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}
	for _, topic := range stats.Topics {
		if !m.topics[topic.TopicName] {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.ChannelName == m.channel {
				SetChannelStats(topic.TopicName, ch.ChannelName, ch.Depth, ch.InFlightCount)
			}
		}
	}
	return nil
}
