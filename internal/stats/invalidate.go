package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"campusattend/internal/attendance"
	"campusattend/internal/queue"
)

// HandleMarked drops cached stats touched by an attendance.marked message.
// Other message types are ignored.
func (s *Service) HandleMarked(ctx context.Context, msg queue.Message) error {
	if msg.Type != attendance.MarkedMessageType {
		return nil
	}
	var evt attendance.MarkedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return s.Invalidate(ctx, evt.StudentID, evt.ClassID)
}

// Run consumes msgs until the channel closes. It returns the number of
// messages handled.
func (s *Service) Run(ctx context.Context, msgs <-chan queue.Message) int {
	n := 0
	for msg := range msgs {
		if err := s.HandleMarked(ctx, msg); err != nil {
			log.Printf("stats invalidation failed: %v", err)
			continue
		}
		n++
	}
	return n
}
