// SPDX-License-Identifier: MPL-2.0

// Package retryx drives a xec.RetryPolicy with
// github.com/cenkalti/backoff/v4, translating the policy's backoff kind and
// bounds into a backoff.BackOff and emitting retry:attempt, retry:success,
// and retry:failed events as it goes.
package retryx
