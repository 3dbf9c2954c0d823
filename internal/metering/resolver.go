// resolver.go exposes the ResolveCustomer slice of the metering API used by
// the checkout endpoint to exchange a marketplace registration token for the
// customer's identifiers.
package metering

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/marketplacemetering"
)

// Resolver is the subset of the metering API that resolves registration tokens.
type Resolver interface {
	ResolveCustomer(ctx context.Context, params *marketplacemetering.ResolveCustomerInput, optFns ...func(*marketplacemetering.Options)) (*marketplacemetering.ResolveCustomerOutput, error)
}

// ResolverFactory builds a resolver with fresh credentials.
type ResolverFactory func(ctx context.Context) (Resolver, error)

// NewClient builds the production metering client. It satisfies both
// MeteringClient and Resolver.
func NewClient(cfg aws.Config) *marketplacemetering.Client {
	return marketplacemetering.NewFromConfig(cfg)
}
