package azure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
)

const providerName = "azure"

// classify maps ARM and identity errors onto the fault taxonomy. 403 stays
// unclassified: a missing role assignment affects one resource type only.
func classify(op string, err error) error {
	return Classify(providerName, op, err)
}

// Classify is shared with the Microsoft 365 adapter, which speaks to Graph
// through the same azcore pipeline.
func Classify(providerTag, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return fault.New(fault.ErrCredentialsInvalid, providerTag, op, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.StatusCode; {
		case status == http.StatusUnauthorized:
			return fault.New(fault.ErrCredentialsInvalid, providerTag, op, err)
		case status == http.StatusTooManyRequests:
			return fault.New(fault.ErrThrottled, providerTag, op, err)
		case status == http.StatusNotFound && respErr.ErrorCode == "SubscriptionNotFound":
			return fault.New(fault.ErrCredentialsInvalid, providerTag, op, err)
		case respErr.ErrorCode == "MissingSubscriptionRegistration" || respErr.ErrorCode == "NoRegisteredProviderFound":
			return fault.New(fault.ErrUnsupported, providerTag, op, err)
		case status >= 500:
			return fault.New(fault.ErrTransientNetwork, providerTag, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.ErrTransientNetwork, providerTag, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
