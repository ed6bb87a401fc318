package jobsystem

import (
	"context"

	"github.com/Swind/go-job-system/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the jobsystem package for most use cases.

// System owns the workers, queues and admission barrier.
type System = core.System

// SystemConfig configures a System.
type SystemConfig = core.SystemConfig

// Job is the unit of schedulable work.
type Job = core.Job

// JobBase is embedded by typed jobs.
type JobBase = core.JobBase

// JobFunc is a closure job body.
type JobFunc = core.JobFunc

// FuncJob wraps a closure.
type FuncJob = core.FuncJob

// Trigger is an atomic down-counter releasing dependent jobs.
type Trigger = core.Trigger

// Channel runs bursts of closures behind one trigger.
type Channel = core.Channel

// ChannelOption configures a Channel.
type ChannelOption = core.ChannelOption

// Definition packs a job's scheduling attributes.
type Definition = core.Definition

type (
	Lifetime    = core.Lifetime
	Weight      = core.Weight
	Affinity    = core.Affinity
	Priority    = core.Priority
	ResetPolicy = core.ResetPolicy
)

// Definition constants
const (
	LifetimeKeepAfterRun   = core.LifetimeKeepAfterRun
	LifetimeDeleteAfterRun = core.LifetimeDeleteAfterRun

	WeightNormal = core.WeightNormal
	WeightLight  = core.WeightLight

	AffinityAny            = core.AffinityAny
	AffinityMainThreadOnly = core.AffinityMainThreadOnly
	AffinityNotMainThread  = core.AffinityNotMainThread

	PriorityBelowNormal = core.PriorityBelowNormal
	PriorityNormal      = core.PriorityNormal
	PriorityAboveNormal = core.PriorityAboveNormal

	ResetClearCountOnFire = core.ResetClearCountOnFire
	ResetKeepCountOnFire  = core.ResetKeepCountOnFire
)

// Errors
var (
	ErrNotInitialized     = core.ErrNotInitialized
	ErrAlreadyInitialized = core.ErrAlreadyInitialized
	ErrSystemExiting      = core.ErrSystemExiting
	ErrTriggerListFull    = core.ErrTriggerListFull
	ErrDependentListFull  = core.ErrDependentListFull
	ErrContractViolation  = core.ErrContractViolation
)

// Constructors and helpers
var (
	NewFuncJob             = core.NewFuncJob
	NewFuncJobWithCapacity = core.NewFuncJobWithCapacity
	NewTrigger             = core.NewTrigger
	NewChannel             = core.NewChannel
	WithMaxInFlight        = core.WithMaxInFlight
	WithPriority           = core.WithPriority
	WithAffinity           = core.WithAffinity
	WithChannelLifetime    = core.WithChannelLifetime
	NewDefinition          = core.NewDefinition
	GetCurrentSystem       = core.GetCurrentSystem
	WorkerID               = core.WorkerID
	IsMainThread           = core.IsMainThread
)

// ForEachChunked submits one closure per geometrically shrinking chunk of items.
func ForEachChunked[T any](ctx context.Context, c *Channel, items []T, divisor, minChunk int, fn func(ctx context.Context, chunk []T)) error {
	return core.ForEachChunked(ctx, c, items, divisor, minChunk, fn)
}

// ForEachFlat submits one closure per chunkSize slice of items.
func ForEachFlat[T any](ctx context.Context, c *Channel, items []T, chunkSize int, fn func(ctx context.Context, chunk []T)) error {
	return core.ForEachFlat(ctx, c, items, chunkSize, fn)
}
