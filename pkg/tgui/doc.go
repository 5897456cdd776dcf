// Package tgui contains small helpers for Telegram inline UI: keyboard
// builders, callback_data packing, and HTML-safe text.
package tgui
