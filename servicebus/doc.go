/*
Package servicebus provides a thin, opinionated facade over the event bus: local
dispatch inside a bounded context, promotion and broadcast of integration events,
supervised cross-context subscribers, and the retry and idempotency helpers their
handlers use. It wires components together while remaining decoupled from concrete
transports via interfaces.
*/
package servicebus
