package cloud

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// InstanceMetadata answers identity questions about the host this
// process runs on, via the instance metadata service. Calls are plain
// blocking requests with no retry of their own.
type InstanceMetadata struct {
	client *imds.Client
}

func NewInstanceMetadata(cfg aws.Config) *InstanceMetadata {
	return &InstanceMetadata{client: imds.NewFromConfig(cfg)}
}

func (m *InstanceMetadata) InstanceID(ctx context.Context) (string, error) {
	return m.get(ctx, "instance-id")
}

func (m *InstanceMetadata) AvailabilityZone(ctx context.Context) (string, error) {
	return m.get(ctx, "placement/availability-zone")
}

func (m *InstanceMetadata) get(ctx context.Context, path string) (string, error) {
	out, err := m.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("instance metadata %s: %w", path, err)
	}
	defer out.Content.Close()

	data, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("instance metadata %s: %w", path, err)
	}
	return string(data), nil
}
