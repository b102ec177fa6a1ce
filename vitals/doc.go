// Package vitals delivers realtime patient vital updates from the vitals backend.
//
// The primary lifecycle is:
//   - load a Config with LoadConfig or start from DefaultConfig
//   - construct a Realtime with NewRealtime
//   - register listeners with On for the event kinds of interest
//   - Connect to a practice, optionally narrowed to one patient
//   - Disconnect when finished
//
// Realtime drives a SocketAdapter, which speaks Socket.IO over a websocket and falls
// back to HTTP long-polling. StreamAdapter follows the server-sent event endpoints and
// can be used on its own. Both adapters connect on a goroutine of their own: Connect
// only reports an invalid target, and every later failure arrives as an EventError
// carrying the attempt count. The event with Terminal set is the last one of a
// connection; the caller must Connect again after it.
//
// Listeners run on the connection goroutine in the order they were registered. A
// panicking listener is recovered and logged without affecting the others.
//
// Errors are *Error values created with NewError and match the exported sentinels with
// errors.Is.
package vitals
