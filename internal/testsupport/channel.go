package testsupport

import (
	"context"
	"sync"

	"sentinel/internal/notify"
)

// Delivery is one call observed by a RecordingChannel.
type Delivery struct {
	Recipient string
	Payload   notify.Payload
	Err       error
}

// RecordingChannel is a notify.Channel that records every attempt and fails
// on demand.
type RecordingChannel struct {
	mu         sync.Mutex
	deliveries []Delivery
	failNext   int
	failAlways error
	failErr    error
}

// NewRecordingChannel returns a channel that succeeds until told otherwise.
func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{}
}

func (r *RecordingChannel) Name() string { return "recording" }

// FailNext makes the next n attempts return err.
func (r *RecordingChannel) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
	r.failErr = err
}

// FailAlways makes every attempt return err; nil restores success.
func (r *RecordingChannel) FailAlways(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAlways = err
}

func (r *RecordingChannel) Deliver(_ context.Context, recipient string, payload notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	switch {
	case r.failAlways != nil:
		err = r.failAlways
	case r.failNext > 0:
		r.failNext--
		err = r.failErr
	}
	r.deliveries = append(r.deliveries, Delivery{Recipient: recipient, Payload: payload, Err: err})
	return err
}

// Deliveries returns a copy of every attempt so far.
func (r *RecordingChannel) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Sent returns only the successful attempts.
func (r *RecordingChannel) Sent() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sent []Delivery
	for _, d := range r.deliveries {
		if d.Err == nil {
			sent = append(sent, d)
		}
	}
	return sent
}
