// Package exchange implements the stateless request coordinator: one call
// per inbound chat request, no state retained between calls. Everything an
// exchange needs is reconstructed from the stores, which is what lets any
// replica serve any turn of any conversation.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"taskchat/internal/dialogue"
	"taskchat/internal/ops"
	"taskchat/internal/resolver"
)

// FallbackReply is returned when the intent resolver fails or times out.
// The exchange still completes and is still recorded.
const FallbackReply = "Sorry, I couldn't process that right now. Your message was saved, please try again."

// defaultConfirmation covers resolvers that request operations but send no
// reply text of their own.
const defaultConfirmation = "Done."

// Request is one inbound exchange. Owner comes from verified identity,
// never from the client payload.
type Request struct {
	Owner     string
	SessionID string // empty starts a new session
	Message   string
}

// Response is the user-visible outcome of one exchange.
type Response struct {
	SessionID           string   `json:"session_id"`
	Reply               string   `json:"reply"`
	OperationsAttempted []string `json:"operations_attempted"`
}

// Coordinator orchestrates one exchange across the dialogue store, the
// resolver and the operation registry. It holds no locks and no
// per-session state; all mutation goes through the stores' own atomic
// operations.
type Coordinator struct {
	dialogues       *dialogue.Store
	registry        *ops.Registry
	resolver        resolver.Resolver
	log             *zap.Logger
	historyLimit    int
	resolverTimeout time.Duration
}

// New creates a coordinator. historyLimit bounds the context window;
// resolverTimeout bounds every Resolve call.
func New(dialogues *dialogue.Store, registry *ops.Registry, r resolver.Resolver, log *zap.Logger, historyLimit int, resolverTimeout time.Duration) *Coordinator {
	if historyLimit <= 0 {
		historyLimit = dialogue.DefaultHistoryLimit
	}
	return &Coordinator{
		dialogues:       dialogues,
		registry:        registry,
		resolver:        r,
		log:             log,
		historyLimit:    historyLimit,
		resolverTimeout: resolverTimeout,
	}
}

// Exchange runs the full state machine for one request.
//
// Failure semantics: a session id that doesn't resolve for the owner
// propagates dialogue.ErrNotFound (client error). Dialogue writes that
// fail are fatal: a turn that cannot be durably recorded did not happen.
// Resolver failures and operation failures are absorbed: the former with
// FallbackReply, the latter folded into the reply text.
func (c *Coordinator) Exchange(ctx context.Context, req Request) (*Response, error) {
	sess, err := c.dialogues.GetOrCreateSession(req.Owner, req.SessionID)
	if err != nil {
		return nil, err
	}

	log := c.log.With(
		zap.String("owner", req.Owner),
		zap.String("session_id", sess.ID),
	)

	history, err := c.dialogues.History(sess.ID, req.Owner, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if _, err := c.dialogues.AppendMessage(sess.ID, req.Owner, dialogue.RoleUser, req.Message, nil); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	intent := c.resolveIntent(ctx, log, history, req.Message)

	var attempted []string
	var failures []string
	for _, call := range intent.Calls {
		attempted = append(attempted, call.Name)
		res := c.registry.Execute(req.Owner, call.Name, call.Args)
		if !res.OK() {
			log.Warn("operation failed",
				zap.String("operation", call.Name),
				zap.String("reason", res.Reason),
			)
			failures = append(failures, res.Reason)
		}
	}

	reply := intent.Reply
	if reply == "" {
		reply = defaultConfirmation
	}
	if len(failures) > 0 {
		reply += "\n\nA note on that: " + strings.Join(failures, "; ") + "."
	}

	if _, err := c.dialogues.AppendMessage(sess.ID, req.Owner, dialogue.RoleAssistant, reply, attempted); err != nil {
		return nil, fmt.Errorf("recording assistant turn: %w", err)
	}

	log.Info("exchange completed",
		zap.Int("history_len", len(history)),
		zap.Strings("operations", attempted),
	)

	if attempted == nil {
		attempted = []string{}
	}
	return &Response{
		SessionID:           sess.ID,
		Reply:               reply,
		OperationsAttempted: attempted,
	}, nil
}

// resolveIntent calls the resolver under its timeout. Any failure,
// whether network, timeout or malformed output, degrades to the fallback
// reply with zero operations.
func (c *Coordinator) resolveIntent(ctx context.Context, log *zap.Logger, history []dialogue.Message, text string) resolver.Intent {
	rctx, cancel := context.WithTimeout(ctx, c.resolverTimeout)
	defer cancel()

	intent, err := c.resolver.Resolve(rctx, history, text)
	if err != nil {
		log.Warn("resolver failed, using fallback reply", zap.Error(err))
		return resolver.Intent{Reply: FallbackReply}
	}
	return intent
}
