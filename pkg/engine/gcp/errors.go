package gcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
)

const providerName = "gcp"

var (
	throttleReasons = map[string]bool{
		"rateLimitExceeded":     true,
		"userRateLimitExceeded": true,
		"quotaExceeded":         true,
	}
	unsupportedReasons = map[string]bool{
		"accessNotConfigured": true,
		"SERVICE_DISABLED":    true,
	}
)

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var tokenErr *oauth2.RetrieveError
	if errors.As(err, &tokenErr) {
		return fault.New(fault.ErrCredentialsInvalid, providerName, op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			switch {
			case throttleReasons[item.Reason]:
				return fault.New(fault.ErrThrottled, providerName, op, err)
			case unsupportedReasons[item.Reason]:
				return fault.New(fault.ErrUnsupported, providerName, op, err)
			}
		}
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fault.New(fault.ErrCredentialsInvalid, providerName, op, err)
		case apiErr.Code == http.StatusTooManyRequests:
			return fault.New(fault.ErrThrottled, providerName, op, err)
		case apiErr.Code >= 500:
			return fault.New(fault.ErrTransientNetwork, providerName, op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.ErrTransientNetwork, providerName, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
