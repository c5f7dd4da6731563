// Package prefs holds the per-owner display preference: rich (markdown) or
// plain text rendering of bot replies.
package prefs

import (
	"context"
	"fmt"
	"strings"
)

type Mode string

const (
	Rich  Mode = "rich"
	Plain Mode = "plain"
)

const Default = Rich

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Rich, "markdown", "on":
		return Rich, nil
	case Plain, "text", "off":
		return Plain, nil
	default:
		return "", fmt.Errorf("unknown display mode %q (use rich or plain)", s)
	}
}

// Store persists the flag. DisplayMode returns Default for unknown owners.
type Store interface {
	DisplayMode(ctx context.Context, owner string) (Mode, error)
	SetDisplayMode(ctx context.Context, owner string, mode Mode) error
}
