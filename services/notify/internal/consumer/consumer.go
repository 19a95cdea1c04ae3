// Package consumer follows the booking and payment subjects published by the
// bookings service and keeps a running tally per subject.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/events"
	"github.com/diagnosis/campus-bookings/pkg/logger"
)

// Subjects is every wildcard the consumer listens on.
var Subjects = []string{"booking.>", "payment.>"}

type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *events.Message)) error
}

// envelope picks the fields shared by the lifecycle payloads. Anything the
// subject does not carry stays empty.
type envelope struct {
	BookingID  string  `json:"booking_id"`
	UserID     string  `json:"user_id"`
	SheetID    string  `json:"sheet_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	ActorID    string  `json:"actor_id"`
	Reference  string  `json:"payment_reference"`
	AttemptRef string  `json:"reference"`
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
}

type SubjectCount struct {
	Subject string    `json:"subject"`
	Count   int       `json:"count"`
	LastAt  time.Time `json:"last_at"`
}

type Consumer struct {
	queue string

	mu      sync.Mutex
	counts  map[string]*SubjectCount
	dropped int
}

func New(queue string) *Consumer {
	return &Consumer{
		queue:  queue,
		counts: make(map[string]*SubjectCount),
	}
}

// Start registers the consumer on every subject in Subjects.
func (c *Consumer) Start(sub Subscriber) error {
	for _, subject := range Subjects {
		if err := sub.QueueSubscribe(subject, c.queue, c.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	return nil
}

// Handle records one message. Undecodable payloads are counted as dropped.
func (c *Consumer) Handle(msg *events.Message) {
	var ev envelope
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		logger.Warn("Dropping undecodable event", "subject", msg.Subject, "event_id", msg.ID, "error", err)
		return
	}

	c.mu.Lock()
	sc, ok := c.counts[msg.Subject]
	if !ok {
		sc = &SubjectCount{Subject: msg.Subject}
		c.counts[msg.Subject] = sc
	}
	sc.Count++
	sc.LastAt = msg.Timestamp
	c.mu.Unlock()

	ctx := context.Background()
	if ev.BookingID != "" {
		ctx = logger.WithBooking(ctx, ev.BookingID)
	}

	args := []any{"subject", msg.Subject, "event_id", msg.ID}
	for _, kv := range [][2]string{
		{"user_id", ev.UserID},
		{"sheet_id", ev.SheetID},
		{"from", ev.From},
		{"to", ev.To},
		{"actor_id", ev.ActorID},
		{"payment_reference", ev.Reference},
		{"reference", ev.AttemptRef},
		{"method", ev.Method},
		{"reason", ev.Reason},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if ev.Amount != 0 {
		args = append(args, "amount", ev.Amount)
	}

	logger.InfoContext(ctx, "Booking activity", args...)
}

type Stats struct {
	Subjects []SubjectCount `json:"subjects"`
	Dropped  int            `json:"dropped"`
}

// Stats returns the tally sorted by subject.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Stats{Subjects: make([]SubjectCount, 0, len(c.counts)), Dropped: c.dropped}
	for _, sc := range c.counts {
		out.Subjects = append(out.Subjects, *sc)
	}
	sort.Slice(out.Subjects, func(i, j int) bool {
		return out.Subjects[i].Subject < out.Subjects[j].Subject
	})
	return out
}
