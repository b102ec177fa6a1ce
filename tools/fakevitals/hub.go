package main

import (
	"encoding/json"
	"sync"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Message is one published update addressed to one or more rooms.
type Message struct {
	Rooms   []string        `json:"rooms"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type delivery struct {
	id      uint64
	message Message
}

// subscriber is one socket session or event stream. Deliveries that do not fit in
// outbound are dropped.
type subscriber struct {
	id       string
	outbound chan delivery
	rooms    map[string]struct{}
}

// Hub routes messages to the subscribers of their rooms and keeps a short history for
// event stream resumption.
type Hub struct {
	logger     *logging.Logger
	historyMax int

	lock        sync.Mutex
	sequence    uint64
	rooms       map[string]map[*subscriber]struct{}
	subscribers map[*subscriber]struct{}
	history     []delivery
	dropped     uint64
}

// NewHub returns an empty hub remembering up to historyMax deliveries.
func NewHub(logger *logging.Logger, historyMax int) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	if historyMax < 0 {
		historyMax = 0
	}
	return &Hub{
		logger:      logger,
		historyMax:  historyMax,
		rooms:       make(map[string]map[*subscriber]struct{}),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (hub *Hub) subscribe(id string, buffer int) *subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{id: id, outbound: make(chan delivery, buffer), rooms: make(map[string]struct{})}
	hub.lock.Lock()
	hub.subscribers[sub] = struct{}{}
	hub.lock.Unlock()
	return sub
}

// join adds sub to room and returns the remembered deliveries for room newer than
// afterID, oldest first.
func (hub *Hub) join(sub *subscriber, room string, afterID uint64) []delivery {
	hub.lock.Lock()
	defer hub.lock.Unlock()
	members, ok := hub.rooms[room]
	if !ok {
		members = make(map[*subscriber]struct{})
		hub.rooms[room] = members
	}
	members[sub] = struct{}{}
	sub.rooms[room] = struct{}{}

	if afterID == 0 {
		return nil
	}
	var backlog []delivery
	for _, past := range hub.history {
		if past.id > afterID && addressedTo(past.message, room) {
			backlog = append(backlog, past)
		}
	}
	return backlog
}

func (hub *Hub) remove(sub *subscriber) {
	hub.lock.Lock()
	defer hub.lock.Unlock()
	for room := range sub.rooms {
		if members, ok := hub.rooms[room]; ok {
			delete(members, sub)
			if len(members) == 0 {
				delete(hub.rooms, room)
			}
		}
	}
	sub.rooms = make(map[string]struct{})
	delete(hub.subscribers, sub)
}

// Deliver fans message out to every subscriber of any of its rooms, once per
// subscriber, and returns the id assigned to it.
func (hub *Hub) Deliver(message Message) uint64 {
	hub.lock.Lock()
	defer hub.lock.Unlock()
	hub.sequence++
	current := delivery{id: hub.sequence, message: message}
	if hub.historyMax > 0 {
		hub.history = append(hub.history, current)
		if len(hub.history) > hub.historyMax {
			hub.history = hub.history[len(hub.history)-hub.historyMax:]
		}
	}

	seen := make(map[*subscriber]struct{})
	for _, room := range message.Rooms {
		for sub := range hub.rooms[room] {
			if _, done := seen[sub]; done {
				continue
			}
			seen[sub] = struct{}{}
			select {
			case sub.outbound <- current:
			default:
				hub.dropped++
				hub.logger.Warn("dropping update, outbound buffer full", "subscriber", sub.id, "room", room)
			}
		}
	}
	return current.id
}

// HubStats is a snapshot of hub occupancy.
type HubStats struct {
	Rooms       int    `json:"rooms"`
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns the current occupancy.
func (hub *Hub) Stats() HubStats {
	hub.lock.Lock()
	defer hub.lock.Unlock()
	return HubStats{Rooms: len(hub.rooms), Subscribers: len(hub.subscribers), Delivered: hub.sequence, Dropped: hub.dropped}
}

func addressedTo(message Message, room string) bool {
	for _, candidate := range message.Rooms {
		if candidate == room {
			return true
		}
	}
	return false
}
