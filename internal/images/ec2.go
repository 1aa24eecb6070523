package images

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// DescribeImagesAPI is the subset of the EC2 client used by EC2Resolver.
type DescribeImagesAPI interface {
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
}

// EC2Resolver looks up the newest available image of a family with DescribeImages.
// Results are cached per selector for the lifetime of the resolver.
type EC2Resolver struct {
	client DescribeImagesAPI

	mu    sync.Mutex
	cache map[string]string
}

// NewEC2Resolver creates a resolver from the default AWS configuration chain.
func NewEC2Resolver(ctx context.Context, region string) (*EC2Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if region != "" {
		cfg.Region = region
	}
	return NewEC2ResolverWithClient(ec2.NewFromConfig(cfg)), nil
}

// NewEC2ResolverWithClient creates a resolver around an existing client.
func NewEC2ResolverWithClient(client DescribeImagesAPI) *EC2Resolver {
	return &EC2Resolver{client: client, cache: make(map[string]string)}
}

// Resolve implements Resolver.
func (r *EC2Resolver) Resolve(ctx context.Context, sel Selector) (string, error) {
	if sel.Pinned() {
		return sel.ID, nil
	}
	if sel.NamePattern == "" {
		return "", fmt.Errorf("image selector %s has no name pattern", sel)
	}

	key := sel.String()
	r.mu.Lock()
	id, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	filters := []types.Filter{
		{Name: aws.String("name"), Values: []string{sel.NamePattern}},
		{Name: aws.String("state"), Values: []string{string(types.ImageStateAvailable)}},
	}
	if sel.Architecture != "" {
		filters = append(filters, types.Filter{Name: aws.String("architecture"), Values: []string{sel.Architecture}})
	}

	out, err := r.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners:  sel.Owners,
		Filters: filters,
	})
	if err != nil {
		return "", fmt.Errorf("describing images for %s: %w", sel, err)
	}

	id = newest(out.Images)
	if id == "" {
		return "", fmt.Errorf("no image matches %s", sel)
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()
	return id, nil
}

// newest returns the ID of the most recently created image. CreationDate is ISO 8601,
// so string order is chronological order.
func newest(imgs []types.Image) string {
	var best types.Image
	for _, img := range imgs {
		if img.ImageId == nil {
			continue
		}
		if best.ImageId == nil || aws.ToString(img.CreationDate) > aws.ToString(best.CreationDate) {
			best = img
		}
	}
	return aws.ToString(best.ImageId)
}
