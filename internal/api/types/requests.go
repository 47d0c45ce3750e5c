package types

// RankParams are the query parameters of the ranking endpoints.
type RankParams struct {
	Limit     int    `validate:"gte=0,lte=100"`
	ErrorType string `validate:"omitempty,alphanum,max=2"`
}

// DetailParams are the query parameters of the execution detail endpoint.
type DetailParams struct {
	Order     string `validate:"omitempty,oneof=most least MOST LEAST"`
	ErrorType string `validate:"omitempty,alphanum,max=2"`
}

// FailRequest is the body of POST /executions/{id}/fail.
type FailRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}
