package domain

import "time"

// NextStatus derives the lifecycle state after a reconciliation step.
//
// Rules:
//   - Terminal states are absorbing: current terminal state wins, whatever
//     the carrier reports later.
//   - A carrier-reported terminal outcome (delivered, exception) from the
//     current fetch takes precedence over age expiry; expiry is the backstop
//     for shipments the carrier can no longer account for.
//   - Once age exceeds maxAge, an active shipment expires.
//   - An empty carrier status means no status change could be derived this
//     cycle; the current state is kept.
func NextStatus(current, carrier Status, createdAt, now time.Time, maxAge time.Duration) Status {
	if current.IsTerminal() {
		return current
	}
	if carrier.IsTerminal() {
		return carrier
	}
	if now.Sub(createdAt) > maxAge {
		return StatusExpired
	}
	if carrier == StatusActive {
		return StatusActive
	}
	return current
}
