package errorstore

import (
	"fmt"
	"strings"
)

// Key prefixes and index partitions.
const (
	ErrorPrefix     = "ERROR#"
	ExecutionPrefix = "EXECUTION#"

	// ExecutionCountPartition ranks failed executions by open error count.
	ExecutionCountPartition = "METRIC#ERRORCOUNT"
	// ErrorTotalPartition ranks error records by total occurrence count.
	ErrorTotalPartition = "METRIC#ERRORTOTAL"

	// CountWidth is the zero-padding width of counts embedded in sort keys.
	CountWidth = 10

	// KeySeparator joins the components of index sort keys.
	KeySeparator = "#"
	idSeparator  = "|"
)

// ErrorTypeLength is the number of leading characters of an error code that form its type.
const ErrorTypeLength = 2

// ErrorTypeOf derives the aggregation type of an error code.
func ErrorTypeOf(code string) string {
	r := []rune(code)
	if len(r) <= ErrorTypeLength {
		return code
	}
	return string(r[:ErrorTypeLength])
}

// PadCount renders n zero-padded to CountWidth digits. Negative values render as zero.
func PadCount(n int64) string {
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%0*d", CountWidth, n)
}

// Keys holds every key attribute of one stored entity.
type Keys struct {
	PK    string `bson:"PK"`
	SK    string `bson:"SK"`
	GS1PK string `bson:"GS1PK,omitempty"`
	GS1SK string `bson:"GS1SK,omitempty"`
	GS2PK string `bson:"GS2PK,omitempty"`
	GS2SK string `bson:"GS2SK,omitempty"`
	GS3PK string `bson:"GS3PK,omitempty"`
	GS3SK string `bson:"GS3SK,omitempty"`
}

// ID is the primary identity of the entity inside the store.
func (k Keys) ID() string {
	return DocumentID(k.PK, k.SK)
}

// DocumentID joins a partition and sort key into a single document identity.
func DocumentID(pk, sk string) string {
	return pk + idSeparator + sk
}

// ErrorPK is the partition key of an error record.
func ErrorPK(code string) string { return ErrorPrefix + code }

// ExecutionPK is the partition key of an execution and its links.
func ExecutionPK(executionID string) string { return ExecutionPrefix + executionID }

// ErrorRecordKeys derives the keys of an error record with the given total.
func ErrorRecordKeys(code string, totalCount int64) Keys {
	pk := ErrorPK(code)
	return Keys{
		PK:    pk,
		SK:    pk,
		GS1PK: ErrorTotalPartition,
		GS1SK: RankSortKey(totalCount, code),
		GS3PK: ErrorTotalPartition,
		GS3SK: TypedRankSortKey(ErrorTypeOf(code), totalCount, code),
	}
}

// LinkKeys derives the keys of an execution/error link.
func LinkKeys(executionID, code string) Keys {
	return Keys{
		PK:    ExecutionPK(executionID),
		SK:    ErrorPK(code),
		GS2PK: ErrorPK(code),
		GS2SK: ExecutionPK(executionID),
	}
}

// ExecutionKeys derives the keys of a failed execution with the given open count.
func ExecutionKeys(executionID, errorType string, openErrorCount int64) Keys {
	pk := ExecutionPK(executionID)
	return Keys{
		PK:    pk,
		SK:    pk,
		GS1PK: ExecutionCountPartition,
		GS1SK: RankSortKey(openErrorCount, executionID),
		GS3PK: ExecutionCountPartition,
		GS3SK: TypedRankSortKey(errorType, openErrorCount, executionID),
	}
}

// RankSortKey is the GS1 sort key: padded count, then the entity id as tie-breaker.
func RankSortKey(count int64, id string) string {
	return PadCount(count) + KeySeparator + id
}

// TypedRankSortKey is the GS3 sort key, sub-partitioned by error type.
func TypedRankSortKey(errorType string, count int64, id string) string {
	return errorType + KeySeparator + RankSortKey(count, id)
}

// TypePrefix is the GS3 sort key prefix selecting one error type.
func TypePrefix(errorType string) string {
	return errorType + KeySeparator
}

// IDFromPK strips a known prefix from a partition key.
func IDFromPK(pk string) string {
	if s, ok := strings.CutPrefix(pk, ExecutionPrefix); ok {
		return s
	}
	if s, ok := strings.CutPrefix(pk, ErrorPrefix); ok {
		return s
	}
	return pk
}
