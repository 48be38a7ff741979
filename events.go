package quota

import "github.com/hashicorp/go-hclog"

// eventLog 按类别拆分的日志输出：infrastructure / security / error
type eventLog struct {
	infra    hclog.Logger
	security hclog.Logger
	errs     hclog.Logger
}

func newEventLog(base hclog.Logger) eventLog {
	if base == nil {
		base = hclog.NewNullLogger()
	}
	return eventLog{
		infra:    base.Named("infrastructure"),
		security: base.Named("security"),
		errs:     base.Named("error"),
	}
}
