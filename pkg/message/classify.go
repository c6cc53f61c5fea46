package message

import "encoding/json"

// Classify inspects a raw JSON object and reports whether it is a flattened JWS.
func Classify(raw json.RawMessage) (Kind, *JWS) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Plain, nil
	}
	return classifyFields(fields)
}

func classifyMessage(fields map[string]json.RawMessage, body json.RawMessage) (Kind, *JWS) {
	if kind, jws := classifyFields(fields); kind == Signed {
		return kind, jws
	}
	if len(body) > 0 && body[0] == '{' {
		return Classify(body)
	}
	return Plain, nil
}

func classifyFields(fields map[string]json.RawMessage) (Kind, *JWS) {
	var jws JWS
	if !nonEmptyString(fields["signature"], &jws.Signature) {
		return Plain, nil
	}
	if !nonEmptyString(fields["payload"], &jws.Payload) || !nonEmptyString(fields["protected"], &jws.Protected) {
		return Plain, nil
	}
	if raw, ok := fields["header"]; ok {
		_ = json.Unmarshal(raw, &jws.Header)
	}
	return Signed, &jws
}

func nonEmptyString(raw json.RawMessage, dst *string) bool {
	if len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return *dst != ""
}
