package utils

import (
	"sync"
	"time"
)

// OAuth state -> 租户 ID 的一次性映射
// 授权往返窗口很短，进程内 sync.Map 足够，不需要外部存储
var stateStore sync.Map

type stateEntry struct {
	tenantID  int64
	expiresAt time.Time
}

// stateTTL 授权流程的完成窗口
const stateTTL = 10 * time.Minute

// BindState 把 state 绑定到租户，窗口内有效
func BindState(state string, tenantID int64) {
	stateStore.Store(state, stateEntry{
		tenantID:  tenantID,
		expiresAt: time.Now().Add(stateTTL),
	})
}

// TakeState 取出 state 对应的租户并立即作废
// 一次性语义：重放同一个 state 第二次必然失败
func TakeState(state string) (int64, bool) {
	val, ok := stateStore.LoadAndDelete(state)
	if !ok {
		return 0, false
	}

	entry := val.(stateEntry)
	if time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.tenantID, true
}
