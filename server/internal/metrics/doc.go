// Package metrics records tag store activity as Prometheus metrics and serves
// them in the text exposition format.
//
// A nil *Recorder is valid and records nothing, so stores and handlers can be
// built without metrics in tests.
package metrics
