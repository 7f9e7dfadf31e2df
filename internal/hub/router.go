package hub

import "github.com/cuinjune/ar-peggiator/internal/protocol"

type audience int

const (
	toSender audience = iota
	toOthers
	toAll
)

func (a audience) String() string {
	switch a {
	case toSender:
		return "sender"
	case toOthers:
		return "others"
	default:
		return "all"
	}
}

// delivery is one logical outbound message and the connections it goes to.
type delivery struct {
	audience audience
	origin   *Client
	typ      protocol.Type
	data     any
}

// targets resolves a delivery against the live client set.
func (h *Hub) targets(d delivery) []*Client {
	switch d.audience {
	case toSender:
		if d.origin == nil {
			return nil
		}
		if cur, ok := h.clients[d.origin.id]; ok && cur == d.origin {
			return []*Client{cur}
		}
		return nil
	default:
		out := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			if d.audience == toOthers && c == d.origin {
				continue
			}
			out = append(out, c)
		}
		return out
	}
}

// dispatch encodes each delivery once and enqueues it on every target.
// A target whose queue is full is evicted; departures of evicted clients are
// announced after the whole batch has been enqueued.
func (h *Hub) dispatch(ds ...delivery) {
	var evicted []*Client
	for _, d := range ds {
		targets := h.targets(d)
		if len(targets) == 0 {
			continue
		}
		payload, err := protocol.Encode(d.typ, d.data)
		if err != nil {
			h.logger.Error("encode failed", "type", d.typ, "err", err)
			continue
		}
		for _, c := range targets {
			if c.State() != StateActive {
				continue
			}
			select {
			case c.send <- payload:
				h.metrics.OutboundMessages.WithLabelValues(string(d.typ)).Inc()
			default:
				c.logger.Warn("send queue full, evicting", "type", d.typ, "audience", d.audience)
				if h.detach(c) {
					h.metrics.Evictions.Inc()
					evicted = append(evicted, c)
				}
			}
		}
	}
	for _, c := range evicted {
		h.announceLeave(c)
	}
}
