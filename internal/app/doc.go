// Package app provides the application service layer.
//
// Service runs the submission use cases: cooldown-gated insert, best-effort
// decoration and dispatch. Dispatcher fans an accepted reading out through the
// connection registry and follows it with a fresh summary. Depends on domain
// interfaces, not concrete implementations.
package app
