// Package scheduler runs the adaptive scheduling loop.
//
// Each cycle it asks the decision engine for recommendations, merges them
// into the task registry, dispatches ready tasks to the execution monitor and
// persists a registry snapshot. The registry is only touched while holding
// the service's registry lock; outcomes from the execution monitor are queued
// and applied by the loop.
package scheduler
