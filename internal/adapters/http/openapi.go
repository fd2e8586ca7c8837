package httpadapter

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var openapiSpec []byte

// requestValidator checks request bodies against the embedded OpenAPI
// contract, so the served spec and the enforced one cannot drift apart.
type requestValidator struct {
	schemas openapi3.Schemas
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return &requestValidator{schemas: doc.Components.Schemas}, nil
}

func (v *requestValidator) validateBody(schemaName string, raw []byte) error {
	ref, ok := v.schemas[schemaName]
	if !ok || ref.Value == nil {
		return fmt.Errorf("unknown request schema %q", schemaName)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return ref.Value.VisitJSON(decoded)
}
