package ports

import (
	"context"
	"encoding/json"
)

// MetadataSource fetches the DICOM metadata document of one stored instance.
type MetadataSource interface {
	InstanceMetadata(ctx context.Context, instanceID string) (json.RawMessage, error)
}
