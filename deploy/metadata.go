package deploy

import (
	"bytes"
	"encoding/json"

	"github.com/sparklane/sparklane/types"
)

// DecodeMetadata parses the metadata part. Fields of the wrong type are
// treated as absent, and non-string entries of "build" are skipped, so the
// assembly step can report exactly which field is missing. An empty part
// decodes to empty metadata.
func DecodeMetadata(data []byte) (*types.Metadata, error) {
	meta := &types.Metadata{}
	if len(bytes.TrimSpace(data)) == 0 {
		return meta, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, userErr(MsgBadMetadata, err)
	}

	meta.Name = stringField(raw["name"])
	meta.Project = stringField(raw["project"])
	meta.Run = stringField(raw["run"])

	var build []json.RawMessage
	if b, ok := raw["build"]; ok && json.Unmarshal(b, &build) == nil && build != nil {
		meta.BuildSet = true
		meta.Build = make([]string, 0, len(build))
		for _, item := range build {
			if s := stringField(item); s != nil {
				meta.Build = append(meta.Build, *s)
			}
		}
	}
	return meta, nil
}

func stringField(raw json.RawMessage) *string {
	if raw == nil || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}
