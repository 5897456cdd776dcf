package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data joins non-empty parts as "ns:action:arg...".
func Data(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}

// CheckData returns ErrCallbackDataTooLong when s would be rejected by Telegram.
func CheckData(s string) error {
	if len(s) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}

// Parsed is callback data split into namespace, action and arguments.
type Parsed struct {
	NS     string
	Action string
	Args   []string
}

// Arg returns the i-th argument or "".
func (p Parsed) Arg(i int) string {
	if i < 0 || i >= len(p.Args) {
		return ""
	}
	return p.Args[i]
}

// Parse splits data produced by Data. ok is false when there is no action.
func Parse(data string) (Parsed, bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Parsed{}, false
	}
	return Parsed{NS: parts[0], Action: parts[1], Args: parts[2:]}, true
}
