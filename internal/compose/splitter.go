package compose

import (
	"context"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/correlate"
	"github.com/haasonsaas/parley/internal/emitter"
	"github.com/haasonsaas/parley/pkg/models"
)

// readingRate is the assumed customer reading speed in words per minute,
// used to pace multi-chunk replies.
const readingRate = 50.0

// ChunkHook runs before each chunk is emitted. Returning false drops the
// chunk; the remaining chunks still go out.
type ChunkHook func(ctx context.Context, chunk string) (bool, error)

// EmitPaced splits a composed reply on blank lines and emits the chunks as
// separate messages with human-paced delays. Every gap between chunks
// carries exactly one typing status; a single terminal ready status follows
// the last emitted chunk, so readers can treat ready as end-of-cycle.
// Returns how many chunks went out.
func EmitPaced(ctx context.Context, em emitter.EventEmitter, data models.MessageEventData, hook ChunkHook, sleep SleepFunc) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	correlationID := correlate.FromContext(ctx)

	var chunks []string
	for _, part := range strings.Split(data.Message, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			chunks = append(chunks, part)
		}
	}

	emitted := 0
	for i, chunk := range chunks {
		if hook != nil {
			proceed, err := hook(ctx, chunk)
			if err != nil {
				return emitted, err
			}
			if !proceed {
				continue
			}
		}

		payload := data
		payload.Message = chunk
		if _, err := em.EmitMessage(ctx, correlationID, payload); err != nil {
			return emitted, err
		}
		emitted++

		if i == len(chunks)-1 {
			break
		}

		if err := sleep(ctx, sentDelay(wordCount(chunk))); err != nil {
			return emitted, err
		}
		if _, err := em.EmitStatus(ctx, correlationID, models.StatusEventData{Status: models.StatusTyping}); err != nil {
			return emitted, err
		}
		if err := sleep(ctx, nextDelay(wordCount(chunks[i+1]))); err != nil {
			return emitted, err
		}
	}

	if emitted > 0 {
		if _, err := em.EmitStatus(ctx, correlationID, models.StatusEventData{Status: models.StatusReady}); err != nil {
			return emitted, err
		}
	}
	return emitted, nil
}

// sentDelay is the pause after a chunk goes out, long enough for the
// customer to read it.
func sentDelay(words int) time.Duration {
	seconds := float64(words) / readingRate * 60 / 60
	if seconds < 0.5 {
		seconds = 0.5
	}
	return time.Duration(seconds * float64(time.Second))
}

// nextDelay is the typing pause before the following chunk: a short base for
// brief messages, longer otherwise, plus reading-rate time for the chunk
// being "typed".
func nextDelay(nextWords int) time.Duration {
	base := 2.0
	if nextWords <= 10 {
		base = 1.0
	}
	seconds := base + float64(nextWords)/readingRate*60/60
	return time.Duration(seconds * float64(time.Second))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
