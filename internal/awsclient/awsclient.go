// Package awsclient builds AWS SDK configurations for the billing service.
//
// When a role ARN is configured the returned config carries assume-role
// credentials, so the service can run with minimal instance permissions and
// assume a role scoped to the marketplace queue and metering API. Credentials
// obtained this way expire; callers that run indefinitely load a fresh config
// per work cycle instead of caching one.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/vantage-compute/vantage-billing/internal/config"
)

// Load resolves an AWS configuration from the default credential chain,
// layering assume-role credentials on top when cfg.RoleARN is set.
func Load(ctx context.Context, cfg *config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.RoleSessionName
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return awsCfg, nil
}
