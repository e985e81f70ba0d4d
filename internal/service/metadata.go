package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/dicom-portal/internal/ports"
)

// ErrInvalidExpression is matched by every expression compilation failure.
var ErrInvalidExpression = errors.New("invalid metadata expression")

// MetadataInspector narrows instance metadata with JMESPath expressions,
// e.g. `"00100010".Value[0].Alphabetic` for the patient name.
type MetadataInspector struct {
	source ports.MetadataSource
}

// NewMetadataInspector returns an inspector reading from source.
func NewMetadataInspector(source ports.MetadataSource) (*MetadataInspector, error) {
	if source == nil {
		return nil, errors.New("metadata source is required")
	}
	return &MetadataInspector{source: source}, nil
}

// ValidateExpression reports whether expr compiles. An empty expression is valid.
func ValidateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return nil
}

// Inspect fetches the metadata of instanceID and applies expr to it.
// An empty expression returns the whole document.
func (m *MetadataInspector) Inspect(ctx context.Context, instanceID, expr string) (any, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, errors.New("instance id is required")
	}
	if err := ValidateExpression(expr); err != nil {
		return nil, err
	}

	raw, err := m.source.InstanceMetadata(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for instance %s: %w", instanceID, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata for instance %s: %w", instanceID, err)
	}
	if strings.TrimSpace(expr) == "" {
		return doc, nil
	}

	out, err := jmespath.Search(expr, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate metadata expression: %w", err)
	}
	return out, nil
}
