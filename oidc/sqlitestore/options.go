// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlitestore

import (
	"time"

	"github.com/hashicorp/oidc-rp/oidc"
)

// options is the set of available options for Open
type options struct {
	withTableName string
	withNowFunc   func() time.Time
}

func getOpts(opt ...oidc.Option) options {
	opts := options{
		withTableName: DefaultTableName,
		withNowFunc:   time.Now,
	}
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithTableName overrides DefaultTableName. The name may contain only
// letters, digits and underscores.
//
// Valid for: Open
func WithTableName(name string) oidc.Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok {
			v.withTableName = name
		}
	}
}

// WithNow provides the clock used for sessions without an UpdatedAt and by
// DeleteIdle.
//
// Valid for: Open
func WithNow(now func() time.Time) oidc.Option {
	return func(o interface{}) {
		if v, ok := o.(*options); ok && now != nil {
			v.withNowFunc = now
		}
	}
}
