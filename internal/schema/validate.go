package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
	"cuelang.org/go/encoding/jsonschema"
)

// ValidateJSON checks a JSON document against a JSON schema given in its
// decoded form, such as the one DefaultCheckpointSchema returns.
func ValidateJSON(jsonSchema map[string]any, data []byte) error {
	ctx := cuecontext.New()
	f, err := jsonschema.Extract(ctx.Encode(jsonSchema), &jsonschema.Config{})
	if err != nil {
		return fmt.Errorf("extract json schema: %w", err)
	}
	constraint := ctx.BuildFile(f)
	if err := constraint.Err(); err != nil {
		return fmt.Errorf("build json schema: %w", err)
	}

	expr, err := cuejson.Extract("input", data)
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	value := ctx.BuildExpr(expr)
	if err := value.Err(); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	if err := constraint.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("document does not match schema: %w", err)
	}
	return nil
}
