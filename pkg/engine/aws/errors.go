package aws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
)

const providerName = "aws"

var (
	throttleCodes = map[string]bool{
		"Throttling":                             true,
		"ThrottlingException":                    true,
		"ThrottledException":                     true,
		"RequestLimitExceeded":                   true,
		"RequestThrottled":                       true,
		"RequestThrottledException":              true,
		"TooManyRequestsException":               true,
		"SlowDown":                               true,
		"PriorRequestNotComplete":                true,
		"ProvisionedThroughputExceededException": true,
	}
	authCodes = map[string]bool{
		"AuthFailure":                 true,
		"InvalidClientTokenId":        true,
		"ExpiredToken":                true,
		"ExpiredTokenException":       true,
		"SignatureDoesNotMatch":       true,
		"UnrecognizedClientException": true,
		"InvalidAccessKeyId":          true,
		"MissingAuthenticationToken":  true,
	}
	unsupportedCodes = map[string]bool{
		"OptInRequired":                 true,
		"UnsupportedOperation":          true,
		"UnsupportedOperationException": true,
		"InvalidAction":                 true,
		"UnknownOperationException":     true,
	}
	transientCodes = map[string]bool{
		"RequestTimeout":          true,
		"RequestTimeoutException": true,
		"InternalError":           true,
		"InternalFailure":         true,
		"InternalServerError":     true,
		"ServiceUnavailable":      true,
		"Unavailable":             true,
	}
)

// classify maps an SDK error onto the fault taxonomy. Permission errors
// (AccessDenied, UnauthorizedOperation) stay unclassified: they affect one
// API, not the whole credential.
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
		case throttleCodes[code]:
			return fault.New(fault.ErrThrottled, providerName, op, err)
		case authCodes[code]:
			return fault.New(fault.ErrCredentialsInvalid, providerName, op, err)
		case unsupportedCodes[code]:
			return fault.New(fault.ErrUnsupported, providerName, op, err)
		case transientCodes[code]:
			return fault.New(fault.ErrTransientNetwork, providerName, op, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusTooManyRequests:
			return fault.New(fault.ErrThrottled, providerName, op, err)
		case status == http.StatusUnauthorized:
			return fault.New(fault.ErrCredentialsInvalid, providerName, op, err)
		case status >= 500:
			return fault.New(fault.ErrTransientNetwork, providerName, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.ErrTransientNetwork, providerName, op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// Classify exposes the taxonomy mapping to other AWS consumers, such as the
// pricing refresher.
func Classify(op string, err error) error { return classify(op, err) }
