// Package pipeline turns a pipeline definition and a resolved configuration
// into an ordered execution plan, then runs it: one step at a time, pinning
// lineage between steps to exact artifact versions and recording every run
// in the artifact store.
package pipeline
