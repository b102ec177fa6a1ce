package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Thejuampi/vitals-client-go/vitals"
)

var watchedKinds = []vitals.EventKind{
	vitals.EventConnected,
	vitals.EventDisconnected,
	vitals.EventError,
	vitals.EventJoinedRoom,
	vitals.EventVitalReadingUpdate,
	vitals.EventPatientVitalUpdate,
	vitals.EventMessage,
}

// newTransport builds the adapter named by method.
func newTransport(method string, cfg vitals.Config, options ...vitals.Option) (vitals.Transport, error) {
	switch vitals.TransportKind(method) {
	case vitals.TransportSocket, "":
		return vitals.NewSocketAdapter(cfg, options...), nil
	case vitals.TransportStream:
		return vitals.NewStreamAdapter(cfg, options...), nil
	default:
		return nil, vitals.NewError(vitals.UnsupportedTransportError, method)
	}
}

// watch connects transport to target and writes every event to out as one JSON line.
// It returns when ctx ends, the server closes the session for good, or reconnection
// gives up.
func watch(ctx context.Context, out io.Writer, transport vitals.Transport, target vitals.Target) error {
	events := make(chan vitals.Event, 64)
	done := make(chan struct{})
	defer transport.Disconnect()
	defer close(done)

	for _, kind := range watchedKinds {
		transport.On(kind, func(event vitals.Event) {
			select {
			case events <- event:
			case <-done:
			}
		})
	}
	if err := transport.Connect(target); err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			if err := encoder.Encode(event); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
			switch {
			case event.Kind == vitals.EventError && event.Terminal:
				return event.Err
			case event.Kind == vitals.EventDisconnected && event.Reason == vitals.ReasonServerDisconnect:
				return nil
			}
		}
	}
}
