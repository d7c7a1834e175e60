// Package session manages the client-side lifecycle of an authenticated
// session against a remote identity backend: bootstrap on startup, explicit
// sign in/out, token refresh recovery, and reconciliation of server-pushed
// auth events.
//
// Bootstrap flow:
//   - TokenProbe synchronously inspects the persisted token blob so a machine
//     with provably no session resolves to unauthenticated with zero network
//     calls.
//   - SessionValidator performs the time-bounded backend interaction: a
//     session check raced against a per-call budget, one refresh attempt on
//     timeout or rejection, and a last-chance refresh when the overall budget
//     fires.
//   - SessionStateMachine folds probe, validator, and profile results into a
//     single observable AuthState and exposes the imperative operations
//     (SignIn, SignUp, SignOut, RefreshUser, ClearAllCache).
//
// Event coalescing:
//   - EventCoalescer subscribes to the backend's change stream and filters
//     events against operations the state machine already has in flight, so
//     an explicit sign in is never double-processed when its SIGNED_IN echo
//     arrives.
//
// Profile caching:
//   - ProfileCache keeps a single short-TTL entry so rapid successive state
//     changes do not refetch the same profile. It carries its own clock so
//     TTL behavior is deterministic under test.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the state machine
//     to describe bootstrap, sign-in, and sign-out outcomes. Sinks run
//     best-effort (errors are logged) so you can forward to a database or
//     queue without blocking authentication.
package session
