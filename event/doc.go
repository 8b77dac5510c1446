/*
Package event defines the immutable notification envelope shared by every bounded context,
the primitives-only Integration event that may cross a context boundary, and the closed
per-context Vocabulary of event kinds.

Envelopes are created once, by a use case, after its own state change has been committed.
The bus never persists them.
*/
package event
