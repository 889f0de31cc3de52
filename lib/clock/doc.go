// Copyright 2026 The Meridian Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the reporter's deferred work: the
// end-session grace timer and the debounced upload timer. Production
// code injects Real(); tests inject Fake() and drive it with Advance,
// so timer-dependent behavior (session merging, periodic uploads) is
// tested without sleeping.
//
// Any function in this module that would otherwise call time.Now or
// time.AfterFunc takes a Clock instead.
package clock
