package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Thejuampi/vitals-client-go/vitals/logging"
)

// Broker carries published messages to every fakevitals instance sharing it.
type Broker interface {
	Publish(ctx context.Context, message Message) error
	// Forward hands every message to deliver until ctx ends.
	Forward(ctx context.Context, deliver func(Message)) error
	Close() error
}

var errBrokerClosed = errors.New("fakevitals: broker closed")

type memoryBroker struct {
	messages chan Message
	done     chan struct{}
}

// NewMemoryBroker returns a broker local to this process.
func NewMemoryBroker(buffer int) Broker {
	if buffer <= 0 {
		buffer = 256
	}
	return &memoryBroker{messages: make(chan Message, buffer), done: make(chan struct{})}
}

func (broker *memoryBroker) Publish(ctx context.Context, message Message) error {
	select {
	case broker.messages <- message:
		return nil
	case <-broker.done:
		return errBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (broker *memoryBroker) Forward(ctx context.Context, deliver func(Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-broker.done:
			return nil
		case message := <-broker.messages:
			deliver(message)
		}
	}
}

func (broker *memoryBroker) Close() error {
	select {
	case <-broker.done:
	default:
		close(broker.done)
	}
	return nil
}

type redisBroker struct {
	logger  *logging.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBroker connects to Redis at addr and fans messages out over channel, so
// several fakevitals instances serve the same rooms.
func NewRedisBroker(ctx context.Context, addr string, channel string, logger *logging.Logger) (Broker, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = "vitals"
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var options *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		options = parsed
	} else {
		options = &goredis.Options{Addr: addr}
	}
	options.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBroker{logger: logger.With("service", "RedisBroker"), rdb: rdb, channel: channel}, nil
}

func (broker *redisBroker) Publish(ctx context.Context, message Message) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return broker.rdb.Publish(ctx, broker.channel, raw).Err()
}

func (broker *redisBroker) Forward(ctx context.Context, deliver func(Message)) error {
	sub := broker.rdb.Subscribe(ctx, broker.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case received, ok := <-channel:
			if !ok || received == nil {
				return nil
			}
			var message Message
			if err := json.Unmarshal([]byte(received.Payload), &message); err != nil {
				broker.logger.Warn("bad redis payload", "error", err)
				continue
			}
			deliver(message)
		}
	}
}

func (broker *redisBroker) Close() error {
	return broker.rdb.Close()
}
