package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SessionIDProperty is the optional argument that names a session
// explicitly on session-scoped tools.
const SessionIDProperty = "session_id"

// SchemaFor reflects the parameter schema of the argument struct A. Fields
// without omitempty are required; unknown properties are rejected.
func SchemaFor[A any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	s := r.Reflect(new(A))
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("reflect schema for %T: %v", *new(A), err))
	}
	return raw
}

// withSessionID adds the optional session_id string property to an object
// schema.
func withSessionID(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	props, _ := doc["properties"].(map[string]any)
	if props == nil {
		props = make(map[string]any)
	}
	if _, ok := props[SessionIDProperty]; !ok {
		props[SessionIDProperty] = map[string]any{
			"type":        "string",
			"description": "Session to act on. Defaults to the session bound to the connection.",
		}
	}
	doc["properties"] = props
	return json.Marshal(doc)
}

// emptyObjectSchema accepts an object with no properties.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
