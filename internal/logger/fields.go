package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldCandidateID is the structured log field key for the candidate identifier.
	FieldCandidateID = "candidate_id"
	// FieldJobID is the structured log field key for the job posting identifier.
	FieldJobID = "job_id"
	// FieldRecordID is the structured log field key for the application record identifier.
	FieldRecordID = "record_id"
	// FieldStatus is the structured log field key for the application status.
	FieldStatus = "status"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// If the logger is nil or no fields are supplied, the input logger is returned
// unchanged, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// RecordFields returns standard zap fields describing an application record.
// Empty values are ignored to keep log entries compact when information is missing.
func RecordFields(recordID, candidateID, jobID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldRecordID, Value: recordID},
		StringField{Key: FieldCandidateID, Value: candidateID},
		StringField{Key: FieldJobID, Value: jobID},
	)
}

// WithRecordFields attaches the record fields to the provided logger.
// If the logger is nil, a no-op logger is created to avoid panics.
func WithRecordFields(logger *zap.Logger, recordID, candidateID, jobID string) *zap.Logger {
	return WithFields(logger, RecordFields(recordID, candidateID, jobID)...)
}
