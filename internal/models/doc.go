// Package models defines the core domain models for closeout.
//
// # Ownership
//
// Two authorities hold state in this system, and the models mirror that
// split:
//   - SettlementCycle and Position are owned by the settlement hub.
//     Closeout fetches them as read-only snapshots and never stores
//     them; the only writes back are the explicit participant-settle
//     and cycle-close transitions issued through the hub client.
//   - NotificationRecord, ClosureMarker and Operator are owned by this
//     service and live in its database. NotificationRecord rows are the
//     audit trail of confirmations: created once, never mutated, never
//     deleted.
//
// # Design Principles
//
// 1. **Opaque identifiers**: cycle and account IDs are strings taken
// verbatim from the hub; closeout assigns no meaning to their shape
// 2. **Exact money**: all amounts are decimal.Decimal, parsed from the
// wire as strings or numbers and compared without float drift
// 3. **Avoid circular references**: models reference each other by ID
// strings, not pointers
package models
