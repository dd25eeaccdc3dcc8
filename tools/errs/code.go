package errs

// 通用错误码
const (
	ServerInternalError = 500

	ArgsError        = 1001
	TokenExpired     = 1002
	RecordNotFound   = 1003
	NoPermission     = 1004
	AllocFailed      = 2001 // 发号失败（脚本返回 -1 / 存储不可达）
	StoreUnavailable = 2002
	PendingFull      = 3001 // 待确认队列已满，拒绝新发送
	SyncPartial      = 3002 // 离线同步中途失败，游标保留
	GapFillFailed    = 3003
)

var (
	ErrInternalServer   = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs             = NewCodeError(ArgsError, "ArgsError")
	ErrTokenExpired     = NewCodeError(TokenExpired, "TokenExpired")
	ErrRecordNotFound   = NewCodeError(RecordNotFound, "RecordNotFound")
	ErrNoPermission     = NewCodeError(NoPermission, "NoPermission")
	ErrAllocFailed      = NewCodeError(AllocFailed, "AllocFailed")
	ErrStoreUnavailable = NewCodeError(StoreUnavailable, "StoreUnavailable")
	ErrPendingFull      = NewCodeError(PendingFull, "PendingFull")
	ErrSyncPartial      = NewCodeError(SyncPartial, "SyncPartial")
	ErrGapFillFailed    = NewCodeError(GapFillFailed, "GapFillFailed")
)

func init() {
	// 存储不可达属于发号失败的一种
	_ = Relate(AllocFailed, StoreUnavailable)
}
