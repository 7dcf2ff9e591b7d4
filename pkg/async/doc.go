// Package async runs fire-and-forget side effects: webhook dispatch,
// notification email, activity logging. Tasks run on detached
// goroutines with their own timeout context and panic recovery, and a
// Runner tracks them so shutdown can drain in-flight work before the
// process exits. Task errors are logged, never returned to the caller.
package async
