package algorithm

// 存储返回的 TTL 约定值
const (
	ttlNoExpire int64 = -1
)

// FixedWindow 根据当前计数和剩余TTL计算固定窗口的检查结果，不访问存储
//
// 键不存在（计数为0、TTL<=0）时按一个完整的新窗口计算重置时间。
func FixedWindow(current, ttl, limit, windowSeconds int64) Context {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	resetIn := windowSeconds
	if ttl > 0 {
		resetIn = ttl
	}

	return Context{
		Allowed:   current < limit,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// NeedsExpire TTL为-1说明键刚被本次递增创建，需要设置过期时间
//
// 窗口内后续的递增不会刷新TTL，窗口锚定在第一次写入。
func NeedsExpire(ttl int64) bool {
	return ttl == ttlNoExpire
}
