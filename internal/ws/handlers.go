package ws

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func (s *WsServer) registerHandlers() {
	// 🔹 document ------------------------------------------------------------
	Register(s.router, EventCodeUpdate, func(_ context.Context, c *clientConn, req CodeUpdateRequest) error {
		lr := s.hub.Room(c.roomID)
		if lr == nil {
			return nil // torn down while the frame was in flight
		}
		lang, rev := lr.applyCode(req.Code, req.Language)
		if req.persist() {
			s.persist.detach(c.roomID, req.Code, lang, rev)
		}
		s.broadcast(c.roomID, CodeUpdateEvent{
			Type:     EventCodeUpdate,
			Sender:   c.sender(),
			Code:     req.Code,
			Language: lang,
		}, c)
		return nil
	})

	Register(s.router, EventLanguageUpdate, func(_ context.Context, c *clientConn, req LanguageUpdateRequest) error {
		lr := s.hub.Room(c.roomID)
		if lr == nil {
			return nil
		}
		code, rev := lr.applyLanguage(req.Language)
		if req.Persist {
			s.persist.detach(c.roomID, code, req.Language, rev)
		}
		s.broadcast(c.roomID, LanguageUpdateEvent{
			Type:     EventLanguageUpdate,
			Sender:   c.sender(),
			Language: req.Language,
		}, c)
		return nil
	})

	// 🔹 chat ----------------------------------------------------------------
	// Persisted before it is broadcast; a failed write is reported to the
	// sender only.
	Register(s.router, EventChatMessage, func(ctx context.Context, c *clientConn, req ChatRequest) error {
		msg, err := s.gw.AppendMessage(ctx, c.roomID, req.Content, c.userID, c.username)
		if err != nil {
			s.metrics.PersistFailures.WithLabelValues("chat").Inc()
			s.sendTo(c, RoomErrorEvent{Type: EventRoomError, Message: "Failed to send message"})
			return fmt.Errorf("append message: %w", err)
		}
		s.broadcast(c.roomID, ChatEvent{Type: EventChatMessage, Message: *msg}, c)
		return nil
	})

	// 🔹 ephemeral -----------------------------------------------------------
	Register(s.router, EventCursorUpdate, func(_ context.Context, c *clientConn, req CursorRequest) error {
		s.broadcast(c.roomID, CursorEvent{
			Type:   EventCursorUpdate,
			Sender: c.sender(),
			Line:   req.Line,
			Column: req.Column,
		}, c)
		return nil
	})

	Register(s.router, EventPresenceQuery, func(_ context.Context, c *clientConn, _ Empty) error {
		s.broadcast(c.roomID, PresenceEvent{Type: EventPresenceQuery, Sender: c.sender()}, c)
		return nil
	})

	// 🔹 signaling -----------------------------------------------------------
	// join and leave reach the sender too: every peer decides on its own
	// whether to open a link.
	Register(s.router, EventVideoJoin, func(_ context.Context, c *clientConn, req VideoJoinRequest) error {
		s.broadcast(c.roomID, PresenceEvent{
			Type:     EventVideoJoin,
			Sender:   c.sender(),
			CallType: req.CallType,
		}, nil)
		return nil
	})

	Register(s.router, EventVideoLeave, func(_ context.Context, c *clientConn, _ Empty) error {
		s.broadcast(c.roomID, PresenceEvent{Type: EventVideoLeave, Sender: c.sender()}, nil)
		return nil
	})

	for _, event := range []string{EventVideoOffer, EventVideoAnswer} {
		Register(s.router, event, func(_ context.Context, c *clientConn, req SignalRequest) error {
			s.relay(c, SignalEvent{
				Type:   event,
				Sender: c.sender(),
				Target: string(req.Target),
				Signal: req.Signal,
			})
			return nil
		})
	}

	Register(s.router, EventVideoICECandidate, func(_ context.Context, c *clientConn, req CandidateRequest) error {
		s.relay(c, SignalEvent{
			Type:      EventVideoICECandidate,
			Sender:    c.sender(),
			Target:    string(req.Target),
			Candidate: req.Candidate,
		})
		return nil
	})
}

// relay unicasts a signaling event inside the sender's room. An absent
// target is not an error.
func (s *WsServer) relay(from *clientConn, ev SignalEvent) {
	to := s.hub.LookupTarget(from.roomID, ev.Target, from)
	if to == nil {
		zap.L().Debug("ws.relay_no_target",
			zap.String("room", from.roomID),
			zap.String("type", ev.Type),
			zap.String("target", ev.Target),
		)
		return
	}
	s.sendTo(to, ev)
}
