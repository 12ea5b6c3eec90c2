// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
)

// deliver mirrors msg into target through its proxy endpoint and returns the
// number of parts posted. Messages without text or attachments are skipped
// without error. Parts are sent strictly in order, each send waiting on p.
// The tenant's counter is incremented only after every part was posted.
func (e *Engine) deliver(ctx context.Context, tenantID string, msg *Message, target string, p *pacer, path string) (int, error) {
	username := msg.Author.Handle()
	avatar := msg.Author.AvatarURL

	files := make([]File, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		file, err := e.platform.FetchAttachment(ctx, att)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch attachment %s of message %s: %w", att.Name, msg.ID, err)
		}
		files = append(files, file)
	}

	texts := Split(msg.Text, e.partLimit)
	if len(texts) == 0 {
		if len(files) == 0 {
			return 0, nil
		}
		texts = []string{""}
	}

	ep, err := e.endpoints.GetOrCreate(ctx, target)
	if err != nil {
		return 0, err
	}

	for i, text := range texts {
		part := Part{
			Text:      text,
			Username:  username,
			AvatarURL: avatar,
			First:     i == 0,
		}
		if i == 0 {
			part.Files = files
		}
		if err := p.wait(ctx); err != nil {
			return 0, err
		}
		if err := e.platform.Send(ctx, ep, part); err != nil {
			return 0, fmt.Errorf("failed to send part %d/%d of message %s to %s: %w", i+1, len(texts), msg.ID, target, err)
		}
		partsDelivered.WithLabelValues(path).Inc()
	}

	total, err := e.ledger.Increment(tenantID, len(texts))
	if err != nil {
		return len(texts), fmt.Errorf("delivered message %s but failed to update counter: %w", msg.ID, err)
	}

	e.log.Debug().
		Str("tenant_id", tenantID).
		Str("message_id", msg.ID).
		Str("target_channel_id", target).
		Int("parts", len(texts)).
		Int64("messages_copied", total).
		Msg("Message mirrored")
	return len(texts), nil
}
