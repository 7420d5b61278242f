package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry         = (*ProviderRegistry)(nil)
	_ OutreachService  = (*Service)(nil)
	_ ActionExecutor   = ActionExecutorFunc(nil)
	_ BackoffScheduler = ExponentialBackoffScheduler{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
