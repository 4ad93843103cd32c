package transport

import "github.com/fastygo/recordlog/domain"

// RecordCreateRequest is the body of POST /api/v1/records.
type RecordCreateRequest struct {
	Fields domain.Fields `json:"fields"`
}

// RecordPatchRequest is the body of PATCH /api/v1/records/{id}. Version is the version
// the client last read and is required.
type RecordPatchRequest struct {
	Version *int64        `json:"version"`
	Changes domain.Fields `json:"changes"`
}
