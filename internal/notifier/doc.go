// Package notifier relays newly seen mint addresses to a Telegram chat.
//
// The relay registers with the broadcaster like any other subscriber. Send
// only enqueues; a supervised worker delivers through the bot client under a
// token-bucket rate limit, retrying failed sends with exponential backoff.
// A full queue drops the event (and counts it) rather than stalling the
// broadcast.
package notifier
