package mongostore

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/bargom/errledger/internal/errorstore"
)

// Aggregation expression builders used by the pipeline updates. Values that
// come from callers are always wrapped in $literal so that a leading '$' is
// never read as a field path.

func lit(v any) bson.D {
	return bson.D{{Key: "$literal", Value: v}}
}

func ifNull(field string, def any) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{field, def}}}
}

func add(a, b any) bson.D {
	return bson.D{{Key: "$add", Value: bson.A{a, b}}}
}

func atLeast(expr any, floor int64) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{expr, floor}}}
}

// clampedSub is max(field - by, 0).
func clampedSub(field string, by int64) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{
		bson.D{{Key: "$subtract", Value: bson.A{ifNull(field, int64(0)), by}}},
		int64(0),
	}}}
}

func concat(parts ...any) bson.D {
	return bson.D{{Key: "$concat", Value: bson.A(parts)}}
}

// padded renders a numeric field zero-padded to errorstore.CountWidth digits,
// matching errorstore.PadCount.
func padded(field string) bson.D {
	zeros := strings.Repeat("0", errorstore.CountWidth)
	str := bson.D{{Key: "$toString", Value: bson.D{{Key: "$toLong", Value: field}}}}
	joined := concat(zeros, str)
	return bson.D{{Key: "$substrCP", Value: bson.A{
		joined,
		bson.D{{Key: "$subtract", Value: bson.A{
			bson.D{{Key: "$strLenCP", Value: joined}},
			errorstore.CountWidth,
		}}},
		errorstore.CountWidth,
	}}}
}

// rankKeysStage rewrites GS1SK and GS3SK from the current counter and type.
// It must run as a separate stage after the counter itself was updated.
func rankKeysStage(countField, id string) bson.D {
	sep := errorstore.KeySeparator
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "GS1SK", Value: concat(padded(countField), sep, lit(id))},
		{Key: "GS3SK", Value: concat("$errorType", sep, padded(countField), sep, lit(id))},
	}}}
}
