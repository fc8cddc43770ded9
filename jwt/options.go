// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type keySetOptions struct {
	withTTL                time.Duration
	withMinRefreshInterval time.Duration
	withLogger             hclog.Logger
	withNowFunc            func() time.Time
}

func keySetDefaults() keySetOptions {
	return keySetOptions{
		withTTL:    DefaultKeySetTTL,
		withLogger: hclog.NewNullLogger(),
	}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTTL provides an optional duration that fetched keys are cached for.
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok {
			v.withTTL = ttl
		}
	}
}

// WithMinRefreshInterval limits how often an unknown kid can force a refetch
// of the key set. Zero (the default) means every unknown kid refetches.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok {
			v.withMinRefreshInterval = d
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*keySetOptions); ok && now != nil {
			v.withNowFunc = now
		}
	}
}
