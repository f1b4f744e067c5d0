package aws

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	engineconfig "github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/version"
)

// LoadConfig builds the SDK configuration for an account credential.
// SDK-level retries are disabled; the scan engine owns the retry policy.
func LoadConfig(ctx context.Context, region string, cred *resource.AWSCredential, logger *slog.Logger) (aws.Config, error) {
	if region == "" {
		region = engineconfig.DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cred != nil {
		switch {
		case cred.AccessKeyID != "":
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, cred.SessionToken),
			))
		case cred.Profile != "":
			opts = append(opts, config.WithSharedConfigProfile(cred.Profile))
		}
	}

	// Local endpoint override (LocalStack).
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}

	cfg.APIOptions = append(cfg.APIOptions, userAgent)
	if logger != nil && logger.Enabled(ctx, slog.LevelDebug) {
		cfg.APIOptions = append(cfg.APIOptions, operationLogger(logger))
	}
	return cfg, nil
}

func userAgent(stack *middleware.Stack) error {
	return stack.Build.Add(middleware.BuildMiddlewareFunc("CloudWasteUserAgent", func(ctx context.Context, input middleware.BuildInput, next middleware.BuildHandler) (
		middleware.BuildOutput, middleware.Metadata, error,
	) {
		if req, ok := input.Request.(*smithyhttp.Request); ok {
			ua := req.Header.Get("User-Agent")
			req.Header.Set("User-Agent", fmt.Sprintf("%s %s/%s", ua, version.AppName, version.Current))
		}
		return next.HandleBuild(ctx, input)
	}), middleware.After)
}

func operationLogger(logger *slog.Logger) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("OperationLogger", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
			middleware.InitializeOutput, middleware.Metadata, error,
		) {
			logger.Debug("AWS API call",
				"service", awsmiddleware.GetServiceID(ctx),
				"operation", awsmiddleware.GetOperationName(ctx),
			)
			return next.HandleInitialize(ctx, input)
		}), middleware.Before)
	}
}

// regionalConfig returns a copy of cfg bound to region.
func regionalConfig(cfg aws.Config, region string) aws.Config {
	c := cfg.Copy()
	c.Region = region
	return c
}
