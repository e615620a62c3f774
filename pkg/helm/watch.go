package helm

import (
	"context"
	"encoding/json"
	"time"

	"apps-console/pkg/rpc"
)

const defaultEventPollInterval = 5 * time.Second

// Subscribe emulates the daemon's release collection by polling release statuses.
// Only rpc.TopicReleases is available.
func (c *Client) Subscribe(ctx context.Context, name string) (<-chan rpc.Event, error) {
	if name != rpc.TopicReleases {
		return nil, rpc.NotSupported("subscription to " + name)
	}
	baseline, err := c.statuses(ctx)
	if err != nil {
		return nil, err
	}
	interval := c.config.EventPollInterval
	if interval <= 0 {
		interval = defaultEventPollInterval
	}
	out := make(chan rpc.Event, 16)
	go c.watchReleases(ctx, interval, baseline, out)
	return out, nil
}

// statuses returns the current status of every release.
func (c *Client) statuses(ctx context.Context) (map[string]string, error) {
	results, err := c.listReleases()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(results))
	for _, rel := range results {
		pods, workloads, err := c.podStatus(ctx, rel.Name)
		if err != nil {
			return nil, err
		}
		out[rel.Name] = releaseStatus(rel, pods, workloads)
	}
	return out, nil
}

func (c *Client) watchReleases(ctx context.Context, interval time.Duration, last map[string]string, out chan<- rpc.Event) {
	defer close(out)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		current, err := c.statuses(ctx)
		if err != nil {
			c.log.WithError(err).Warn("Failed to poll release statuses")
			continue
		}
		for _, ev := range diffStatuses(last, current) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		last = current
	}
}

// diffStatuses builds the events turning prev into next.
func diffStatuses(prev, next map[string]string) []rpc.Event {
	var events []rpc.Event
	for name, status := range next {
		old, known := prev[name]
		switch {
		case !known:
			events = append(events, statusEvent(rpc.EventAdded, name, status))
		case old != status:
			events = append(events, statusEvent(rpc.EventChanged, name, status))
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			events = append(events, rpc.Event{Msg: rpc.EventRemoved, Collection: rpc.TopicReleases, ID: mustJSON(name)})
		}
	}
	return events
}

func statusEvent(msg, name, status string) rpc.Event {
	return rpc.Event{
		Msg:        msg,
		Collection: rpc.TopicReleases,
		ID:         mustJSON(name),
		Fields:     mustJSON(map[string]string{"status": status}),
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
