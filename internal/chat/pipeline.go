package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vap/backend/internal/metrics"
	"github.com/vap/backend/internal/safechat"
	"github.com/vap/backend/internal/store"
)

// handleMessage runs the ingress pipeline: sanitize, room breaker,
// inbound scan, outbound scan, session scorer, signature check,
// persist and broadcast. Rejections for content safety are generic on
// the wire; the specifics stay server-side to deny probing.
func (c *client) handleMessage(jobID, content, signature string) {
	if !c.limiter.AllowMessage() {
		c.sendError(jobID, "rate_limited", "slow down")
		return
	}

	m := c.membership(jobID)
	if m == nil {
		c.sendError(jobID, "forbidden", "join the job first")
		return
	}
	if !m.room.limiter.Allow() {
		c.sendError(jobID, "rate_limited", "room message limit reached")
		return
	}

	clean := Sanitize(content)
	if clean == "" {
		c.sendError(jobID, "validation_error", "empty message")
		return
	}

	sender := c.principal.Identity
	paused, notice := m.room.breaker.Record(sender)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if notice {
		c.insertSystemNotice(ctx, m, "High message volume detected; this room is briefly paused.")
	}
	if paused {
		c.sendError(jobID, "room_paused", "room temporarily paused")
		return
	}

	var score float64
	var flags []safechat.Flag
	if m.job.SafeChatEnabled {
		res, err := c.hub.scanner.ScanInbound(ctx, clean)
		if err == nil {
			score = res.Score
			flags = res.Flags
		} else {
			c.hub.logger.Printf("inbound scan: %v", err)
		}
		if score >= safechat.InboundRejectScore {
			c.hub.scorer.Record(sender, jobID, score)
			metrics.MessagesScanned.WithLabelValues("inbound", "reject").Inc()
			c.sendError(jobID, "message_rejected", "message could not be delivered")
			return
		}
		metrics.MessagesScanned.WithLabelValues("inbound", safechat.JudgeInbound(score)).Inc()
	}

	outScore := 0.0
	if sender == m.job.Seller && m.job.SafeChatEnabled {
		out, err := c.hub.scanner.ScanOutbound(ctx, clean)
		var outFlags []safechat.Flag
		if err == nil {
			outScore = out.Score
			outFlags = out.Flags
		} else {
			c.hub.logger.Printf("outbound scan: %v", err)
		}

		// A canary match is a system-prompt leak regardless of what
		// the scanner thought.
		if c.canaryLeak(ctx, sender, clean) {
			outScore = 1.0
			outFlags = append(outFlags, safechat.Flag{Type: "canary_leak", Severity: "critical"})
		}

		verdict := safechat.JudgeOutbound(outScore)
		metrics.MessagesScanned.WithLabelValues("outbound", verdict).Inc()
		switch verdict {
		case safechat.VerdictHold:
			// Held content still counts against the session window.
			c.hub.scorer.Record(sender, jobID, outScore)
			c.holdMessage(ctx, m, clean, outScore, outFlags)
			return
		case safechat.VerdictWarn:
			if outScore > score {
				score = outScore
			}
			flags = append(flags, outFlags...)
		}
	}

	// The session window judges both directions: the worst score of the
	// two scans feeds the crescendo check.
	if recordSessionScore(c.hub.scorer, sender, jobID, score, outScore) {
		c.sendError(jobID, "message_rejected", "message could not be delivered")
		return
	}

	signed := false
	if signature != "" {
		// Chat signatures are over the exact sanitized content.
		if _, err := c.hub.verifier.VerifyTemplate(ctx, sender, clean, signature); err == nil {
			signed = true
		}
	}

	msg := &store.Message{
		JobID:     jobID,
		Sender:    sender,
		Content:   clean,
		Signed:    signed,
		Signature: signature,
	}
	if score > 0 {
		s := score
		msg.SafetyScore = &s
	}
	if len(flags) > 0 {
		if raw, err := json.Marshal(flags); err == nil {
			msg.Flags = string(raw)
		}
	}

	if _, err := c.hub.store.InsertMessage(ctx, msg); err != nil {
		c.hub.logger.Printf("insert message: %v", err)
		c.sendError(jobID, "internal", "message not delivered")
		return
	}

	m.room.broadcast(mustFrame(EvMessageOut, jobID, msg))
	c.hub.emitter.MessageEvent(ctx, "message.new", m.job, msg)
}

// recordSessionScore feeds the worst of the inbound and outbound scan
// scores into the sender's session window and reports whether the
// crescendo threshold tripped.
func recordSessionScore(scorer *safechat.SessionScorer, sender, jobID string, inScore, outScore float64) bool {
	worst := inScore
	if outScore > worst {
		worst = outScore
	}
	return scorer.Record(sender, jobID, worst)
}

// holdMessage routes blocked outbound content to the hold queue. The
// sender sees only message_held.
func (c *client) holdMessage(ctx context.Context, m *membership, content string, score float64, flags []safechat.Flag) {
	rawFlags, _ := json.Marshal(flags)
	id, err := c.hub.hold.Hold(ctx, &store.HeldMessage{
		JobID:   m.job.ID,
		Sender:  c.principal.Identity,
		Content: content,
		Score:   score,
		Flags:   string(rawFlags),
	})
	if err != nil {
		c.hub.logger.Printf("hold message: %v", err)
		c.sendError(m.job.ID, "internal", "message not delivered")
		return
	}
	c.enqueue(mustFrame(EvMessageHeld, m.job.ID, map[string]any{"holdId": id}))
}

func (c *client) canaryLeak(ctx context.Context, agent, content string) bool {
	canaries, err := c.hub.store.ListCanaries(ctx, agent)
	if err != nil {
		c.hub.logger.Printf("list canaries: %v", err)
		return false
	}
	for _, token := range canaries {
		if token != "" && strings.Contains(content, token) {
			return true
		}
	}
	return false
}

func (c *client) insertSystemNotice(ctx context.Context, m *membership, text string) {
	msg := &store.Message{
		JobID:   m.job.ID,
		Sender:  store.SystemSender,
		Content: text,
	}
	if _, err := c.hub.store.InsertMessage(ctx, msg); err != nil {
		c.hub.logger.Printf("system notice: %v", err)
		return
	}
	m.room.broadcast(mustFrame(EvMessageOut, m.job.ID, msg))
}
