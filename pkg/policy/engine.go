package policy

import "context"

// Engine evaluates classified requests into routing decisions. It must be
// pure with respect to the request — no hidden per-request state — and must
// never panic out of Evaluate; classification failures are the caller's
// responsibility to demote to a Reject at the boundary (see
// pkg/govern/errors).
//
// Cedar policy file parsing, or any other concrete rule language, is
// explicitly out of scope for this package: Engine is a black-box
// evaluator contract. pkg/policy/static provides one conforming
// implementation for local use and tests.
type Engine interface {
	// Evaluate classifies a request with this precedence:
	//  1. any policy permits Forward -> Forward
	//  2. else any policy permits Approve -> Approve with the minimum
	//     requested timeout across matching policies
	//  3. else Reject with a non-empty diagnostic reason
	Evaluate(ctx context.Context, req Request) (Decision, error)

	// Reload atomically swaps the active policy set. An in-flight
	// Evaluate call observes either the old or the new set in full, never
	// a mixture. On failure the previous set remains active and Stats is
	// left unchanged.
	Reload(ctx context.Context) error

	// Stats reports monotonically non-decreasing lifetime counters.
	Stats() Stats
}
