package logging

import "time"

// TimedOperation logs the duration of a unit of work when it ends.
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

// StartTimer begins timing an operation.
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{logger: logger, msg: msg, start: time.Now(), fields: fields}
}

// Elapsed reports the time since the timer started.
func (t *TimedOperation) Elapsed() time.Duration { return time.Since(t.start) }

// End logs the operation at info level with its latency and any extra fields.
func (t *TimedOperation) End(extra ...Field) time.Duration {
	d := t.Elapsed()
	t.logger.Info(t.msg, t.collect(d, extra)...)
	return d
}

// EndError logs the operation at error level.
func (t *TimedOperation) EndError(err error, extra ...Field) time.Duration {
	d := t.Elapsed()
	t.logger.Error(t.msg, append(t.collect(d, extra), Error(err))...)
	return d
}

func (t *TimedOperation) collect(d time.Duration, extra []Field) []Field {
	fields := make([]Field, 0, len(t.fields)+len(extra)+1)
	fields = append(fields, t.fields...)
	fields = append(fields, extra...)
	return append(fields, Latency(d))
}
