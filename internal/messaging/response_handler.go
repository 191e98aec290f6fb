// Package messaging provides response handling functionality for stateful interactions.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// ResponseAction defines a hook function that processes a user's response.
// It receives the user's canonical identifier, response text, and timestamp.
// It should return true if the response was handled, false otherwise.
type ResponseAction func(ctx context.Context, from, responseText string, timestamp int64) (handled bool, err error)

// ResponseHandler manages stateful response processing by maintaining a map of
// recipient -> action hooks and routing incoming responses appropriately.
type ResponseHandler struct {
	// hooks maps canonicalized user identifiers to response action functions
	hooks map[string]ResponseAction
	// mu protects concurrent access to the hooks map
	mu sync.RWMutex
	// msgService is used to send default responses when no hook is registered
	msgService Service
	// defaultAction, when set, is tried for senders without a registered hook
	defaultAction ResponseAction
	// defaultMessage is sent when no hook or default action handles a response
	defaultMessage string
}

// NewResponseHandler creates a new ResponseHandler with the given messaging service.
func NewResponseHandler(msgService Service) *ResponseHandler {
	return &ResponseHandler{
		hooks:          make(map[string]ResponseAction),
		msgService:     msgService,
		defaultMessage: "Thanks for your message! Reply with the number of an option to continue.",
	}
}

// RegisterHook registers a response action for a specific user.
func (rh *ResponseHandler) RegisterHook(recipient string, action ResponseAction) error {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler RegisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.hooks[canonicalRecipient] = action

	slog.Debug("ResponseHandler hook registered", "recipient", canonicalRecipient)
	return nil
}

// UnregisterHook removes a response action for a specific user.
func (rh *ResponseHandler) UnregisterHook(recipient string) error {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Error("ResponseHandler UnregisterHook validation failed", "error", err, "recipient", recipient)
		return fmt.Errorf("invalid recipient: %w", err)
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()
	delete(rh.hooks, canonicalRecipient)

	slog.Debug("ResponseHandler hook unregistered", "recipient", canonicalRecipient)
	return nil
}

// IsHookRegistered checks if a hook is registered for the given recipient.
func (rh *ResponseHandler) IsHookRegistered(recipient string) bool {
	canonicalRecipient, err := rh.msgService.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		slog.Debug("ResponseHandler IsHookRegistered validation failed", "error", err, "recipient", recipient)
		return false
	}

	rh.mu.RLock()
	defer rh.mu.RUnlock()
	_, exists := rh.hooks[canonicalRecipient]
	return exists
}

// ProcessResponse processes an incoming response by checking for registered
// hooks and executing them, or sending a default response if no hook is found.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	slog.Debug("ResponseHandler processing response", "from", canonicalFrom, "body_length", len(response.Body))

	rh.mu.RLock()
	action, hasHook := rh.hooks[canonicalFrom]
	rh.mu.RUnlock()

	if hasHook {
		slog.Debug("ResponseHandler executing hook", "from", canonicalFrom)
		handled, err := action(ctx, canonicalFrom, response.Body, response.Time)
		if err != nil {
			slog.Error("ResponseHandler hook execution failed", "error", err, "from", canonicalFrom)
			return fmt.Errorf("hook execution failed: %w", err)
		}

		if handled {
			slog.Info("ResponseHandler response handled by hook", "from", canonicalFrom)
			return nil
		}
		slog.Debug("ResponseHandler hook did not handle response", "from", canonicalFrom)
	}

	rh.mu.RLock()
	defaultAction := rh.defaultAction
	rh.mu.RUnlock()
	if defaultAction != nil {
		handled, err := defaultAction(ctx, canonicalFrom, response.Body, response.Time)
		if err != nil {
			slog.Error("ResponseHandler default action failed", "error", err, "from", canonicalFrom)
			return fmt.Errorf("default action failed: %w", err)
		}
		if handled {
			slog.Info("ResponseHandler response handled by default action", "from", canonicalFrom)
			return nil
		}
	}

	slog.Debug("ResponseHandler sending default response", "from", canonicalFrom)
	if err := rh.msgService.SendMessage(ctx, canonicalFrom, rh.defaultMessage); err != nil {
		slog.Error("ResponseHandler failed to send default response", "error", err, "from", canonicalFrom)
		return fmt.Errorf("failed to send default response: %w", err)
	}

	slog.Info("ResponseHandler sent default response", "from", canonicalFrom)
	return nil
}

// Run consumes the service's Responses channel until the context is cancelled
// or the channel closes, feeding every response through ProcessResponse.
func (rh *ResponseHandler) Run(ctx context.Context) {
	slog.Debug("ResponseHandler Run starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ResponseHandler Run stopping due to context cancellation")
			return
		case resp, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Debug("ResponseHandler Run stopping, responses channel closed")
				return
			}
			if err := rh.ProcessResponse(ctx, resp); err != nil {
				slog.Error("ResponseHandler failed to process response", "error", err, "from", resp.From)
			}
		}
	}
}

// SetDefaultAction sets a catch-all action tried for senders that have no
// registered hook, before falling back to the default message.
func (rh *ResponseHandler) SetDefaultAction(action ResponseAction) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.defaultAction = action
}

// SetDefaultMessage sets the default message sent when no hook handles a response.
func (rh *ResponseHandler) SetDefaultMessage(message string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.defaultMessage = message
}

// GetHookCount returns the number of currently registered hooks.
func (rh *ResponseHandler) GetHookCount() int {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return len(rh.hooks)
}
