// Package clock abstracts the time operations used by the telemetry flush
// timer so tests can drive the debounce window deterministically.
//
// Production code uses Real(). Tests use Fake(start) and move time with
// Advance; AfterFunc callbacks whose deadline is reached run synchronously
// inside Advance, in deadline order.
package clock
