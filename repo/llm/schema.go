package llm

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/hildam/deerflow/entity/model"
)

// PlanSchema 由计划结构体生成的 JSON Schema，step_type 限定为枚举值
func PlanSchema() (*openapi3.Schema, error) {
	ref, err := openapi3gen.NewSchemaRefForValue(&model.Plan{}, nil)
	if err != nil {
		return nil, fmt.Errorf("PlanSchema failed, err: %w", err)
	}

	if steps, ok := ref.Value.Properties["steps"]; ok && steps.Value != nil && steps.Value.Items != nil {
		if item := steps.Value.Items.Value; item != nil {
			if st, ok := item.Properties["step_type"]; ok && st.Value != nil {
				st.Value.Enum = []any{string(model.Research), string(model.Processing)}
			}
		}
	}
	return ref.Value, nil
}
