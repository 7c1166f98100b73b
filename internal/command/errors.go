// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command failures.
const (
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeInvalidArgs      = "INVALID_ARGS"
	CodeTargetNotFound   = "TARGET_NOT_FOUND"
	CodeTargetProtected  = "TARGET_PROTECTED"
	CodeBadDuration      = "BAD_DURATION"
	CodeGatewayError     = "GATEWAY_ERROR"
)

// ErrUnknownCommand creates an error for an unknown command.
func ErrUnknownCommand(cmd string) error {
	return oops.Code(CodeUnknownCommand).
		With("command", cmd).
		Errorf("unknown command: %s", cmd)
}

// ErrPermissionDenied creates an error for insufficient permission.
func ErrPermissionDenied(cmd string) error {
	return oops.Code(CodePermissionDenied).
		With("command", cmd).
		Errorf("permission denied for command %s", cmd)
}

// ErrInvalidArgs creates an error for malformed arguments.
func ErrInvalidArgs(cmd, usage string) error {
	return oops.Code(CodeInvalidArgs).
		With("command", cmd).
		With("usage", usage).
		Errorf("invalid arguments")
}

// ErrTargetNotFound creates an error for an unresolvable target player.
func ErrTargetNotFound(name string) error {
	return oops.Code(CodeTargetNotFound).
		With("target", name).
		Errorf("no player named %q", name)
}

// ErrTargetProtected creates an error for moderation against another
// administrator.
func ErrTargetProtected(name string) error {
	return oops.Code(CodeTargetProtected).
		With("target", name).
		Errorf("%q is an administrator", name)
}

// GatewayError wraps a persistence failure with a player-facing
// message.
func GatewayError(message string, cause error) error {
	return oops.Code(CodeGatewayError).With("message", message).Wrap(cause)
}

// PlayerMessage extracts a player-facing message from an error. The
// pipeline returns only plain text to the issuer; nothing internal
// leaks past this boundary.
func PlayerMessage(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong. Try again."
	}

	switch oopsErr.Code() {
	case CodeUnknownCommand:
		return "Unknown command."
	case CodePermissionDenied:
		return "You don't have permission to do that."
	case CodeInvalidArgs:
		if usage, ok := oopsErr.Context()["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	case CodeTargetNotFound:
		if target, ok := oopsErr.Context()["target"].(string); ok {
			return "No player named \"" + target + "\"."
		}
		return "Player not found."
	case CodeTargetProtected:
		return "You can't do that to another administrator."
	case CodeBadDuration:
		return "Invalid duration. Use forms like 30s, 10m, 2h, or 7d."
	case CodeGatewayError:
		if msg, ok := oopsErr.Context()["message"].(string); ok && msg != "" {
			return msg
		}
		return "Something went wrong. Try again."
	default:
		return "Something went wrong. Try again."
	}
}
