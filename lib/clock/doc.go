// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Every timer and delay in the library goes through the [Clock]
// interface. Production code injects [Real], which delegates to the
// standard time package. Tests inject [Fake], which only moves when
// [FakeClock.Advance] is called, so timeout and quiescence-delay
// behavior can be exercised deterministically and without sleeping.
package clock
