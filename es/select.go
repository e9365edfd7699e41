package es

import "database/sql"

// SelectParams bound and order an event read within one stream.
// Zero value means: whole stream, ascending, no limit.
type SelectParams struct {
	// Gt is an exclusive lower bound on originator version.
	Gt sql.NullInt64

	// Lte is an inclusive upper bound on originator version.
	Lte sql.NullInt64

	// Desc returns events in descending version order.
	Desc bool

	// Limit caps the number of returned events. 0 means no limit.
	Limit int
}

// SelectOption is a functional option for configuring SelectParams.
type SelectOption func(*SelectParams)

// WithGt sets an exclusive lower version bound.
func WithGt(version int64) SelectOption {
	return func(p *SelectParams) {
		p.Gt = sql.NullInt64{Int64: version, Valid: true}
	}
}

// WithLte sets an inclusive upper version bound.
func WithLte(version int64) SelectOption {
	return func(p *SelectParams) {
		p.Lte = sql.NullInt64{Int64: version, Valid: true}
	}
}

// WithDesc returns events in descending version order.
func WithDesc() SelectOption {
	return func(p *SelectParams) {
		p.Desc = true
	}
}

// WithLimit caps the number of returned events.
func WithLimit(limit int) SelectOption {
	return func(p *SelectParams) {
		p.Limit = limit
	}
}

// NewSelectParams builds SelectParams from functional options.
func NewSelectParams(opts ...SelectOption) SelectParams {
	var params SelectParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}

// NotificationParams bound and filter a notification log read.
// The read covers ids in [start, Stop], or [start, infinity) when Stop
// is unset, ascending, filtered to Topics when non-empty.
type NotificationParams struct {
	// Stop is an inclusive upper bound on notification id.
	Stop sql.NullInt64

	// Topics restricts results to notifications with one of these
	// topics. Empty means no filtering.
	Topics []string
}

// NotificationOption is a functional option for NotificationParams.
type NotificationOption func(*NotificationParams)

// WithStop sets an inclusive upper bound on notification id.
func WithStop(id int64) NotificationOption {
	return func(p *NotificationParams) {
		p.Stop = sql.NullInt64{Int64: id, Valid: true}
	}
}

// WithTopics restricts results to the given topics.
func WithTopics(topics ...string) NotificationOption {
	return func(p *NotificationParams) {
		p.Topics = topics
	}
}

// NewNotificationParams builds NotificationParams from functional options.
func NewNotificationParams(opts ...NotificationOption) NotificationParams {
	var params NotificationParams
	for _, opt := range opts {
		opt(&params)
	}
	return params
}
