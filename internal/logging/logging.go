// Package logging provides the structured logging helper shared by every
// reception-core component. It wraps logrus so that call sites attach a
// consistent set of fields (component, function, flow id) instead of
// building ad-hoc logrus.Fields literals everywhere.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Helper attaches a standard set of fields to every log line emitted
// through it.
type Helper struct {
	fields logrus.Fields
}

// New creates a Helper scoped to a component name (e.g. "ring", "srtcp").
func New(component string) *Helper {
	return &Helper{
		fields: logrus.Fields{
			"component": component,
		},
	}
}

// With returns a copy of the helper with an additional field set.
func (h *Helper) With(key string, value interface{}) *Helper {
	fields := make(logrus.Fields, len(h.fields)+1)
	for k, v := range h.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Helper{fields: fields}
}

// WithFields returns a copy of the helper with additional fields merged in.
func (h *Helper) WithFields(extra logrus.Fields) *Helper {
	fields := make(logrus.Fields, len(h.fields)+len(extra))
	for k, v := range h.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Helper{fields: fields}
}

// WithError returns a copy of the helper with an error field attached.
func (h *Helper) WithError(err error) *Helper {
	return h.With("error", err.Error())
}

func (h *Helper) Debug(args ...interface{}) { logrus.WithFields(h.fields).Debug(args...) }
func (h *Helper) Info(args ...interface{})  { logrus.WithFields(h.fields).Info(args...) }
func (h *Helper) Warn(args ...interface{})  { logrus.WithFields(h.fields).Warn(args...) }
func (h *Helper) Error(args ...interface{}) { logrus.WithFields(h.fields).Error(args...) }

// Debugf, Infof, Warnf, Errorf mirror the logrus formatted variants.
func (h *Helper) Debugf(format string, args ...interface{}) {
	logrus.WithFields(h.fields).Debug(fmt.Sprintf(format, args...))
}

func (h *Helper) Infof(format string, args ...interface{}) {
	logrus.WithFields(h.fields).Info(fmt.Sprintf(format, args...))
}

func (h *Helper) Warnf(format string, args ...interface{}) {
	logrus.WithFields(h.fields).Warn(fmt.Sprintf(format, args...))
}

func (h *Helper) Errorf(format string, args ...interface{}) {
	logrus.WithFields(h.fields).Error(fmt.Sprintf(format, args...))
}

// SetLevel parses a level name (e.g. "info", "debug") and applies it to the
// global logrus logger. Unknown names leave the current level unchanged and
// return an error.
func SetLevel(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
