package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/tabula/core"
)

type level struct {
	name   string
	report func(interfaces ...interface{})
}

var (
	levelDebug = level{"DEBUG", rollbar.Debug}
	levelInfo  = level{"INFO", rollbar.Info}
	levelWarn  = level{"WARN", rollbar.Warning}
	levelError = level{"ERROR", rollbar.Error}
	levelFatal = level{"FATAL", rollbar.Critical}
)

// RollbarLogger reports to Rollbar and mirrors every entry on a std logger.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// entry is one log call split into what Rollbar takes separately.
type entry struct {
	msg       string
	err       error
	fields    map[string]interface{}
	principal *core.Principal
	extra     []interface{}
}

// parseEntry sorts args into an entry; context maps are merged, the first Principal wins.
func parseEntry(msg string, args []interface{}) entry {
	e := entry{msg: msg}
	for _, arg := range args {
		switch a := arg.(type) {
		case nil:
		case core.Principal:
			if e.principal == nil {
				p := a
				e.principal = &p
			}
		case error:
			if e.err == nil {
				e.err = a
			} else {
				e.extra = append(e.extra, a)
			}
		case map[string]interface{}:
			if e.fields == nil {
				e.fields = make(map[string]interface{}, len(a))
			}
			for k, v := range a {
				e.fields[k] = v
			}
		default:
			e.extra = append(e.extra, a)
		}
	}
	return e
}

// rollbarArgs is msg, then the error, then the merged context; rollbar picks each up by type.
func (e entry) rollbarArgs() []interface{} {
	args := []interface{}{e.msg}
	if e.err != nil {
		args = append(args, e.err)
	}
	if len(e.fields) > 0 {
		args = append(args, e.fields)
	}
	return args
}

// String renders "msg | error | k=v k=v" with keys sorted.
func (e entry) String() string {
	parts := []string{e.msg}
	if e.err != nil {
		parts = append(parts, e.err.Error())
	}
	if len(e.fields) > 0 {
		keys := make([]string, 0, len(e.fields))
		for k := range e.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, len(keys))
		for i, k := range keys {
			kv[i] = fmt.Sprintf("%s=%v", k, e.fields[k])
		}
		parts = append(parts, strings.Join(kv, " "))
	}
	if e.principal != nil {
		parts = append(parts, "client="+e.principal.ID)
	}
	for _, x := range e.extra {
		parts = append(parts, fmt.Sprintf("%+v", x))
	}
	return strings.Join(parts, " | ")
}

func (l RollbarLogger) log(lvl level, msg string, args []interface{}) entry {
	e := parseEntry(msg, args)
	if e.principal != nil {
		rollbar.SetPerson(e.principal.ID, e.principal.Username, "")
	} else {
		rollbar.ClearPerson()
	}
	lvl.report(e.rollbarArgs()...)
	l.std.Printf("%s: %s", lvl.name, e)
	return e
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log(levelDebug, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log(levelInfo, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log(levelWarn, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log(levelError, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(levelFatal, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
