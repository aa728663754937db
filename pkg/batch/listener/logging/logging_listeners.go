// Package logging provides listeners that log job, step, chunk, skip, and
// retry events through the engine logger.
package logging

import (
	"context"

	"github.com/marloq/riptide/pkg/batch/core/model"
	"github.com/marloq/riptide/pkg/batch/core/port"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

// --- Job Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobListener: BeforeJob - JobName: %s, ID: %s, Params: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.Parameters.String())
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s",
		jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus)
}

var _ port.JobListener = (*LoggingJobListener)(nil)

// --- Step Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepListener: BeforeStep - StepName: %s, ID: %s", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepListener: AfterStep - StepName: %s, Status: %s, Read: %d, Write: %d, Skip: %d",
		stepExecution.StepName, stepExecution.Status,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.TotalSkipCount())
}

var _ port.StepListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s", stepExecution.StepName)
}

func (l *LoggingChunkListener) AfterChunk(ctx context.Context, stepExecution *model.StepExecution) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Read: %d, Write: %d, Commits: %d",
		stepExecution.StepName, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)

// --- Skip Listener ---

type LoggingSkipListener struct{}

func NewLoggingSkipListener() *LoggingSkipListener {
	return &LoggingSkipListener{}
}

func (l *LoggingSkipListener) OnSkipRead(ctx context.Context, err error) {
	logger.Warnf("SkipListener: OnSkipRead - %v", err)
}

func (l *LoggingSkipListener) OnSkipProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipProcess - Item: %+v, Error: %v", item, err)
}

func (l *LoggingSkipListener) OnSkipWrite(ctx context.Context, item interface{}, err error) {
	logger.Warnf("SkipListener: OnSkipWrite - Item: %+v, Error: %v", item, err)
}

var _ port.SkipListener = (*LoggingSkipListener)(nil)

// --- Retry Listener ---

type LoggingRetryListener struct{}

func NewLoggingRetryListener() *LoggingRetryListener {
	return &LoggingRetryListener{}
}

func (l *LoggingRetryListener) OnRetryRead(ctx context.Context, err error) {
	logger.Warnf("RetryListener: OnRetryRead - %v", err)
}

func (l *LoggingRetryListener) OnRetryProcess(ctx context.Context, item interface{}, err error) {
	logger.Warnf("RetryListener: OnRetryProcess - Item: %+v, Error: %v", item, err)
}

func (l *LoggingRetryListener) OnRetryWrite(ctx context.Context, items []interface{}, err error) {
	logger.Warnf("RetryListener: OnRetryWrite - Items: %d, Error: %v", len(items), err)
}

var _ port.RetryListener = (*LoggingRetryListener)(nil)
