package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/ec2crypt/ec2crypt/pkg/migrate"
)

// transientCodes are API error codes worth retrying with backoff.
var transientCodes = map[string]bool{
	"Throttling":                            true,
	"ThrottlingException":                   true,
	"RequestLimitExceeded":                  true,
	"RequestThrottled":                      true,
	"RequestThrottledException":             true,
	"SnapshotCreationPerVolumeRateExceeded": true,
	"ServiceUnavailable":                    true,
	"InternalError":                         true,
	"InternalFailure":                       true,
	"EC2ThrottledException":                 true,
	"ConcurrentSnapshotLimitExceeded":       true,
	"KMSInternalException":                  true,
	"KMSThrottlingException":                true,
}

// conflictCodes indicate the resource was in an unexpected state, usually a
// sign of concurrent external modification.
var conflictCodes = map[string]bool{
	"IncorrectState":         true,
	"IncorrectInstanceState": true,
	"InvalidState":           true,
	"VolumeInUse":            true,
}

// classify maps an SDK error into the engine's error taxonomy. Context
// cancellation passes through untouched so callers can distinguish an
// operator interrupt from a provider failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case transientCodes[code]:
			return migrate.Transient(op, err)
		case conflictCodes[code]:
			return migrate.StateConflict(op, err)
		}
	}
	return migrate.Terminal(op, err)
}

// classifyWait maps a waiter failure. The SDK waiters report an exhausted
// wait bound only through the error text, so the check is textual.
func classifyWait(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "exceeded max wait time") {
		return migrate.Timeout(op, err)
	}
	return classify(op, err)
}

// isInstanceNotFound matches the DescribeInstances errors for ids that do
// not exist or are malformed.
func isInstanceNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "InvalidInstanceID.NotFound" || code == "InvalidInstanceID.Malformed"
	}
	return false
}
