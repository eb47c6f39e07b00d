package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/mqtt"
)

// revokeReason tags revocations that arrive over MQTT in the audit log.
const revokeReason = "mqtt_command"

var errMissingUserID = errors.New("revoke command: user_id is required")

// revokeCommand is the payload of graylogic/auth/command/revoke.
type revokeCommand struct {
	UserID string `json:"user_id"`
}

// tokenRevoker is the part of *auth.Manager the revoke handler needs.
type tokenRevoker interface {
	RevokeTokens(ctx context.Context, userID, reason string) (int64, error)
}

// revokeHandler signs a user out of every remembered device on request
// from another Gray Logic service.
func revokeHandler(ctx context.Context, m tokenRevoker) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var cmd revokeCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("decoding revoke command: %w", err)
		}
		if cmd.UserID == "" {
			return errMissingUserID
		}
		if _, err := m.RevokeTokens(ctx, cmd.UserID, revokeReason); err != nil {
			return fmt.Errorf("revoking tokens for %s: %w", cmd.UserID, err)
		}
		return nil
	}
}
