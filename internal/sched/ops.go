package sched

import "log/slog"

// LoggingContextOps is a ContextOps implementation for hosts without a
// real assembly-level context switch to hand off to: it logs the
// would-be jump instead of diverging. Production bring-up on real
// hardware supplies an assembly stub satisfying the same interface.
type LoggingContextOps struct {
	Log *slog.Logger
}

func (o LoggingContextOps) SwitchContext(sp, pc uint32) {
	o.log().Debug("switch_context", "sp", sp, "pc", pc)
}

func (o LoggingContextOps) RestoreContext(sp, pc uint32) {
	o.log().Debug("restore_context", "sp", sp, "pc", pc)
}

func (o LoggingContextOps) log() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

var _ ContextOps = LoggingContextOps{}
