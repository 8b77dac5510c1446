/*
Package inmemory provides the in-process implementations of the bus seams:
Capture, a bus.Publisher that records what it is given, and Transport, a
best-effort broadcast transport for single-process deployments and tests.
*/
package inmemory
