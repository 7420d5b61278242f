package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Loggers is the resolved logger set for one outreach component, with the
// go-job bridges used by the dispatch and renewal job handlers.
type Loggers struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// Resolve picks provider over logger over nop and names the logger after the
// component, e.g. "outreach.dispatch".
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	name := "outreach"
	if component != "" {
		name += "." + component
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return Loggers{
		Provider:    resolvedProvider,
		Logger:      resolvedLogger,
		JobProvider: job.GoLoggerProvider(resolvedProvider),
		JobLogger:   job.GoLogger(resolvedLogger),
	}
}
