package algorithm

// Context 单条规则的计算结果（独立类型，不依赖核心包）
type Context struct {
	Allowed   bool  // 是否允许请求
	Current   int64 // 当前计数
	Limit     int64 // 限流阈值
	Remaining int64 // 剩余配额
	ResetIn   int64 // 距离窗口重置的秒数
}
