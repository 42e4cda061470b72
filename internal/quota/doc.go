// Package quota meters consumption of the costly downstream operation and
// decides whether a principal may start another one.
//
// The Ledger keeps one running total per principal per calendar month (UTC).
// The Policy derives each principal's monthly limit from the global budget
// divided by the number of registered principals, and answers admission
// questions before and after the costly call:
//
//	est := policy.Estimate(inputUnits)
//	if err := policy.CanProceed(ctx, id, est); err != nil { ... }  // *ExceededError
//	// costly call
//	policy.Reconcile(ctx, id, actualUnits)                          // always, even on failure
//
// CanProceed followed by Reconcile admits a bounded overshoot when requests
// from one principal race. With strict reservations enabled, Admit reserves
// the estimate atomically and Settle books the actual cost and releases the
// reservation, so concurrent admissions cannot jointly exceed the limit.
package quota
