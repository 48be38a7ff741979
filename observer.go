package quota

// Observer 指标钩子，实现见 drivers/metrics/prometheus
type Observer interface {
	// ObserveCheck 单条规则检查结果
	ObserveCheck(rule string, allowed bool)
	// ObserveStoreUnavailable 因存储不可用导致的拒绝或跳过
	ObserveStoreUnavailable(op string)
	// ObserveRoundTrips 与存储的网络往返次数
	ObserveRoundTrips(op string, n int)
	// ObserveIncrementFailure 递增失败（不会返回给调用方）
	ObserveIncrementFailure(op string)
}

type nopObserver struct{}

func (nopObserver) ObserveCheck(string, bool) {}
func (nopObserver) ObserveStoreUnavailable(string) {}
func (nopObserver) ObserveRoundTrips(string, int) {}
func (nopObserver) ObserveIncrementFailure(string) {}
