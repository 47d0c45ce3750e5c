package mongostore

import (
	"github.com/bargom/errledger/internal/errorstore"
)

// Field names shared by filters, updates and indexes.
const (
	fieldID         = "_id"
	fieldEntityType = "entityType"
	fieldPK         = "PK"
	fieldSK         = "SK"
	fieldGS1PK      = "GS1PK"
	fieldGS1SK      = "GS1SK"
	fieldGS2PK      = "GS2PK"
	fieldGS2SK      = "GS2SK"
	fieldGS3PK      = "GS3PK"
	fieldGS3SK      = "GS3SK"
)

type errorDoc struct {
	ID                      string                `bson:"_id"`
	EntityType              errorstore.EntityType `bson:"entityType"`
	errorstore.Keys         `bson:",inline"`
	errorstore.ErrorRecord  `bson:",inline"`
}

type linkDoc struct {
	ID                            string                `bson:"_id"`
	EntityType                    errorstore.EntityType `bson:"entityType"`
	errorstore.Keys               `bson:",inline"`
	errorstore.ExecutionErrorLink `bson:",inline"`
}

type executionDoc struct {
	ID                             string                `bson:"_id"`
	EntityType                     errorstore.EntityType `bson:"entityType"`
	errorstore.Keys                `bson:",inline"`
	errorstore.FailedExecutionItem `bson:",inline"`
}

func errorID(code string) string {
	pk := errorstore.ErrorPK(code)
	return errorstore.DocumentID(pk, pk)
}

func linkID(executionID, code string) string {
	return errorstore.DocumentID(errorstore.ExecutionPK(executionID), errorstore.ErrorPK(code))
}

func executionID(id string) string {
	pk := errorstore.ExecutionPK(id)
	return errorstore.DocumentID(pk, pk)
}
