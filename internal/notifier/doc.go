// Package notifier delivers fired reminders to their owners over a chat
// adapter.
//
// Deliveries are paced with a shared token bucket so a burst of reminders due
// in the same minute stays under the platform's send limits. Every firing
// produces exactly one send attempt; failures are returned to the caller and
// never retried here.
package notifier
